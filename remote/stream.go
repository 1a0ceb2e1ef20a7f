package remote

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/internal/consts"
)

const maxEventSize = 1 << 20

// ErrStreamEnded is reported by Stream.Err when the server closed the stream.
var ErrStreamEnded = errors.New("push stream ended by server")

// Stream is one open push subscription.
type Stream struct {
	ID string

	cancel context.CancelFunc
	body   io.ReadCloser
	logger *log.Logger
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// Subscribe opens the push stream and calls handle for every decoded event, in
// arrival order, from a single goroutine. Events that fail to decode are logged
// and skipped.
func (c *Client) Subscribe(ctx context.Context, handle func(domain.Event)) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	ctx, obs := c.observe(ctx, http.MethodGet, ssePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+ssePath, nil)
	if err != nil {
		obs.Finish(0, 0, err)
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		obs.Finish(0, 0, err)
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		serr := &StatusError{Method: http.MethodGet, Route: ssePath, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		obs.Finish(resp.StatusCode, len(msg), serr)
		cancel()
		return nil, serr
	}
	obs.Finish(resp.StatusCode, 0, nil)

	s := &Stream{
		ID:     c.newKey(),
		cancel: cancel,
		body:   resp.Body,
		logger: c.logger,
		done:   make(chan struct{}),
	}
	s.logger.WithField("stream_id", s.ID).Info("push stream opened")
	go s.read(handle)
	return s, nil
}

func (s *Stream) read(handle func(domain.Event)) {
	defer close(s.done)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var (
		name string
		data strings.Builder
	)
	dispatch := func() {
		defer func() {
			name = ""
			data.Reset()
		}()
		if name == "" && data.Len() == 0 {
			return
		}
		ev, err := DecodeEvent(name, []byte(data.String()))
		if err != nil {
			s.logger.WithFields(log.Fields{"stream_id": s.ID, "event": name, "error": err}).Warn("push event skipped")
			return
		}
		handle(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = fieldValue(line, "event:", consts.SSEEventPrefix)
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(fieldValue(line, "data:", consts.SSEDataPrefix))
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrStreamEnded
	}
	s.mu.Lock()
	if s.closed {
		err = nil
	}
	s.err = err
	s.mu.Unlock()
	if err != nil {
		s.logger.WithFields(log.Fields{"stream_id": s.ID, "error": err}).Warn("push stream ended")
	}
}

func fieldValue(line, bare, spaced string) string {
	if strings.HasPrefix(line, spaced) {
		return line[len(spaced):]
	}
	return line[len(bare):]
}

// Close ends the subscription. It is safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

// Done is closed once the stream has stopped delivering events.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err reports why the stream stopped. It is nil while the stream is open and
// after Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
