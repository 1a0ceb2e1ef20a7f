package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"board-sync/domain"
	"board-sync/notify"
)

// Device selects the loading strategy.
type Device string

const (
	// Desktop loads a lane's tasks only when it is expanded.
	Desktop Device = "desktop"
	// Mobile loads every lane up front.
	Mobile Device = "mobile"
)

func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case "", Desktop:
		return Desktop, nil
	case Mobile:
		return Mobile, nil
	}
	return "", fmt.Errorf("unknown device class %q", s)
}

// Board is the part of the board store the loader drives.
type Board interface {
	HydrateFromPayload(data []byte) error
	LoadLanes(ctx context.Context) ([]domain.Lane, error)
	LoadLaneTasks(ctx context.Context, laneID domain.ID) ([]domain.Task, error)
	DeferLaneLoads(ids ...domain.ID)
	SetCollapsed(id domain.ID, collapsed bool) error
	Lanes() []domain.Lane
	Lane(id domain.ID) (domain.Lane, bool)
	OnChange(fn func(notify.Change)) func()
}

// Loader decides when lane tasks are fetched.
type Loader struct {
	board       Board
	device      Device
	logger      *log.Logger
	concurrency int

	mu       sync.Mutex
	expanded map[domain.ID]bool // expanded by the user
	selected domain.ID
	visible  []domain.ID
	ctx      context.Context
	unwatch  func()
	bg       sync.WaitGroup
}

type Option func(*Loader)

func WithLogger(l *log.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// WithConcurrency caps parallel lane fetches during eager loads.
func WithConcurrency(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.concurrency = n
		}
	}
}

func New(b Board, device Device, opts ...Option) *Loader {
	l := &Loader{
		board:       b,
		device:      device,
		logger:      log.StandardLogger(),
		concurrency: 4,
		expanded:    make(map[domain.ID]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Device() Device { return l.device }

// Start fills the board. A parseable payload replaces the initial lane and task
// round-trips; otherwise lanes are fetched and loaded per device class. After
// Start returns, every later lane resync triggers the same per-device reload.
func (l *Loader) Start(ctx context.Context, payload []byte) error {
	hydrated := false
	if len(payload) > 0 {
		if err := l.board.HydrateFromPayload(payload); err != nil {
			l.logger.WithError(err).Warn("initial state unusable, loading from server")
		} else {
			hydrated = true
			l.logger.WithField("lanes", len(l.board.Lanes())).Info("board hydrated from initial state")
		}
	}
	if !hydrated {
		if _, err := l.board.LoadLanes(ctx); err != nil {
			return err
		}
	}
	l.reload(ctx)

	l.mu.Lock()
	l.ctx = context.WithoutCancel(ctx)
	if l.unwatch == nil {
		l.unwatch = l.board.OnChange(l.onChange)
	}
	l.mu.Unlock()
	return nil
}

// Close stops reacting to lane resyncs and waits for background reloads.
func (l *Loader) Close() {
	l.mu.Lock()
	unwatch := l.unwatch
	l.unwatch = nil
	l.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	l.bg.Wait()
}

func (l *Loader) onChange(c notify.Change) {
	if c.Kind != notify.ChangeLanesReloaded {
		return
	}
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	if ctx == nil {
		return
	}
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		l.reload(ctx)
	}()
}

// reload fetches lanes that are not loaded yet. Mobile loads all of them;
// desktop loads expanded lanes and leaves collapsed lanes for later.
func (l *Loader) reload(ctx context.Context) {
	var load, deferred []domain.ID
	for _, lane := range l.board.Lanes() {
		switch {
		case lane.TasksLoaded:
		case l.device == Mobile || !lane.Collapsed:
			load = append(load, lane.ID)
		default:
			deferred = append(deferred, lane.ID)
		}
	}
	if len(deferred) > 0 {
		l.board.DeferLaneLoads(deferred...)
	}

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for _, id := range load {
		g.Go(func() error {
			if _, err := l.loadAuto(ctx, id); err != nil {
				l.logger.WithError(err).WithField("lane_id", id).Warn("lane load failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// loadAuto loads a lane the user did not ask for and applies the automatic
// collapse rule: empty lanes collapse, lanes with tasks expand. Lanes the user
// expanded stay expanded.
func (l *Loader) loadAuto(ctx context.Context, id domain.ID) ([]domain.Task, error) {
	tasks, err := l.board.LoadLaneTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	pinned := l.expanded[id]
	l.mu.Unlock()
	if !pinned {
		if err := l.board.SetCollapsed(id, len(tasks) == 0); err != nil {
			return tasks, err
		}
	}
	return tasks, nil
}

// Expand opens a lane for the user and loads its tasks once.
func (l *Loader) Expand(ctx context.Context, id domain.ID) error {
	l.mu.Lock()
	l.expanded[id] = true
	l.mu.Unlock()
	if err := l.board.SetCollapsed(id, false); err != nil {
		return err
	}
	return l.ensureLoaded(ctx, id)
}

// Collapse closes a lane. Its tasks stay loaded.
func (l *Loader) Collapse(id domain.ID) error {
	l.mu.Lock()
	delete(l.expanded, id)
	l.mu.Unlock()
	return l.board.SetCollapsed(id, true)
}

// Select makes id the selected lane of the mobile lane picker.
func (l *Loader) Select(ctx context.Context, id domain.ID) error {
	if err := l.Expand(ctx, id); err != nil {
		return err
	}
	l.mu.Lock()
	l.selected = id
	l.mu.Unlock()
	return nil
}

func (l *Loader) Selected() domain.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// SetVisible records which lanes pass the current filter. A single visible
// lane is force-expanded, loaded if not already, and stays expanded even when
// it has no tasks.
func (l *Loader) SetVisible(ctx context.Context, ids []domain.ID) error {
	l.mu.Lock()
	l.visible = append([]domain.ID(nil), ids...)
	l.mu.Unlock()
	if len(ids) != 1 {
		return nil
	}
	return l.Expand(ctx, ids[0])
}

func (l *Loader) Visible() []domain.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ID(nil), l.visible...)
}

func (l *Loader) ensureLoaded(ctx context.Context, id domain.ID) error {
	lane, ok := l.board.Lane(id)
	if !ok {
		return fmt.Errorf("expand lane %s: not on the board", id)
	}
	if lane.TasksLoaded {
		return nil
	}
	_, err := l.board.LoadLaneTasks(ctx, id)
	return err
}
