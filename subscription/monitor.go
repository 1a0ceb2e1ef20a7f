package subscription

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/notify"
)

// Stream is an open push subscription.
type Stream interface {
	Close()
	Done() <-chan struct{}
}

// Dialer opens a push subscription that delivers events to handle.
type Dialer func(ctx context.Context, handle func(domain.Event)) (Stream, error)

type Config struct {
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	MaxAttempts      int
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:    5 * time.Second,
		HeartbeatTimeout: 25 * time.Second,
		BackoffBase:      2 * time.Second,
		BackoffMax:       10 * time.Second,
		MaxAttempts:      10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// Monitor keeps one push subscription alive. Any received event counts as a
// heartbeat; a subscription that stays silent past HeartbeatTimeout, ends, or
// loses the network is closed and reopened with capped exponential backoff.
type Monitor struct {
	cfg    Config
	dial   Dialer
	handle func(domain.Event)
	pub    notify.Publisher
	logger *log.Logger
	now    func() time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
	online        bool
	state         notify.ConnState

	// stream is owned by the Run goroutine.
	stream Stream
	wake   chan struct{}
}

type Option func(*Monitor)

func WithPublisher(p notify.Publisher) Option {
	return func(m *Monitor) { m.pub = p }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor that passes every event to handle.
func New(cfg Config, dial Dialer, handle func(domain.Event), opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg.withDefaults(),
		dial:   dial,
		handle: handle,
		pub:    notify.Discard,
		logger: log.StandardLogger(),
		now:    time.Now,
		online: true,
		state:  notify.ConnDisconnected,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) State() notify.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) LastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeat
}

// SetOnline reports the host's network state. Going offline closes the stream;
// coming back online reconnects immediately.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if !changed {
		return
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) isOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Run connects and watches the subscription until ctx is done. The stream is
// closed on return.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.closeStream()

	if m.isOnline() {
		m.connect(ctx, false)
	} else {
		m.setState(notify.Connection{State: notify.ConnDisconnected})
	}

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		var done <-chan struct{}
		if m.stream != nil {
			done = m.stream.Done()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			m.unhealthy(ctx, "push stream ended")
		case <-ticker.C:
			if m.stale() {
				m.unhealthy(ctx, "heartbeat timeout")
			}
		case <-m.wake:
			switch {
			case !m.isOnline():
				m.goOffline()
			case m.stream == nil:
				m.connect(ctx, false)
			}
		}
	}
}

func (m *Monitor) receive(ev domain.Event) {
	m.mu.Lock()
	m.lastHeartbeat = m.now()
	m.mu.Unlock()
	if m.handle != nil {
		m.handle(ev)
	}
}

func (m *Monitor) stale() bool {
	if m.stream == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastHeartbeat) > m.cfg.HeartbeatTimeout
}

func (m *Monitor) unhealthy(ctx context.Context, reason string) {
	m.logger.WithField("reason", reason).Warn("push subscription unhealthy")
	m.closeStream()
	m.setState(notify.Connection{State: notify.ConnDisconnected})
	if !m.isOnline() {
		return
	}
	m.connect(ctx, true)
}

func (m *Monitor) goOffline() {
	m.logger.Info("host offline, closing push subscription")
	m.closeStream()
	m.setState(notify.Connection{State: notify.ConnDisconnected})
}

// connect dials until a stream opens, attempts run out, ctx ends or the host
// goes offline. With delayFirst the first dial also waits one backoff period.
func (m *Monitor) connect(ctx context.Context, delayFirst bool) {
	for attempt := 1; ; attempt++ {
		if delayFirst || attempt > 1 {
			delay := exponentialBackoff(attempt, m.cfg.BackoffBase, m.cfg.BackoffMax)
			m.setState(notify.Connection{State: notify.ConnReconnecting, Attempt: attempt, Delay: delay})
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-m.wake:
				timer.Stop()
				if !m.isOnline() {
					m.goOffline()
					return
				}
			case <-timer.C:
			}
		}

		err := m.open(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.WithFields(log.Fields{"attempt": attempt, "error": err}).Warn("push subscription failed")
		if attempt >= m.cfg.MaxAttempts {
			m.setState(notify.Connection{State: notify.ConnExhausted, Attempt: attempt})
			return
		}
	}
}

// open replaces the current stream with a new one.
func (m *Monitor) open(ctx context.Context) error {
	m.closeStream()
	s, err := m.dial(ctx, m.receive)
	if err != nil {
		return err
	}
	m.stream = s
	m.mu.Lock()
	m.lastHeartbeat = m.now()
	m.mu.Unlock()
	m.setState(notify.Connection{State: notify.ConnConnected})
	return nil
}

func (m *Monitor) closeStream() {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

func (m *Monitor) setState(c notify.Connection) {
	m.mu.Lock()
	m.state = c.State
	m.mu.Unlock()

	m.logger.WithFields(log.Fields{"state": c.State, "attempt": c.Attempt, "delay": c.Delay}).Debug("push connection state")
	m.pub.Publish(notify.ConnectionMessage(c))
	switch c.State {
	case notify.ConnDisconnected:
		m.pub.Publish(notify.Message{Topic: notify.TopicNotice, Notice: &notify.Notice{Level: notify.LevelWarn, Text: "Connection lost. Reconnecting...", Persistent: true}})
	case notify.ConnExhausted:
		m.pub.Publish(notify.Message{Topic: notify.TopicNotice, Notice: &notify.Notice{Level: notify.LevelError, Text: "Connection lost. Please reload.", Persistent: true}})
	}
}
