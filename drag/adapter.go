package drag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/notify"
)

var ErrCrossLaneDisabled = errors.New("cross-lane moves are disabled while a filter is active")

// Container is one drop target: a status column inside a lane.
type Container struct {
	LaneID domain.ID     `json:"laneId"`
	Status domain.Status `json:"status"`
}

func (c Container) String() string { return fmt.Sprintf("%s/%s", c.LaneID, c.Status) }

// Binding is a live drag handler attached to a container.
type Binding interface {
	Destroy()
}

// Surface attaches drag handling to containers. Binding a container that
// already has a binding is not allowed; the adapter destroys first.
type Surface interface {
	Bind(c Container) (Binding, error)
	BindLanes() (Binding, error)
}

// DropEvent is a finished task drag.
type DropEvent struct {
	TaskID   domain.ID `json:"taskId"`
	From     Container `json:"from"`
	To       Container `json:"to"`
	OldIndex int       `json:"oldIndex"`
	NewIndex int       `json:"newIndex"`
}

// LaneDropEvent is a finished lane header drag. Order is the lane ids as they
// now appear.
type LaneDropEvent struct {
	OldIndex int         `json:"oldIndex"`
	NewIndex int         `json:"newIndex"`
	Order    []domain.ID `json:"order"`
}

// Board is the part of the board store drops are applied to.
type Board interface {
	MoveTaskOptimistic(ctx context.Context, id domain.ID, status domain.Status, laneID domain.ID, position *int) *board.Pending
	ReorderLanesOptimistic(ctx context.Context, ordered []domain.ID) *board.Pending
	Lanes() []domain.Lane
	OnChange(fn func(notify.Change)) func()
}

// Adapter turns drag gestures into store mutations and keeps the surface's
// bindings in step with the lanes on the board.
type Adapter struct {
	board   Board
	surface Surface
	logger  *log.Logger

	mu           sync.Mutex
	bindings     map[Container]Binding
	lanes        Binding
	filterActive bool
	unwatch      func()
}

type Option func(*Adapter)

func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

func New(b Board, s Surface, opts ...Option) *Adapter {
	a := &Adapter{
		board:    b,
		surface:  s,
		logger:   log.StandardLogger(),
		bindings: make(map[Container]Binding),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start binds every container of the active lanes and follows board changes.
func (a *Adapter) Start() {
	a.rebindAll()
	a.mu.Lock()
	if a.unwatch == nil {
		a.unwatch = a.board.OnChange(a.onChange)
	}
	a.mu.Unlock()
}

// Close stops following the board and destroys all bindings.
func (a *Adapter) Close() {
	a.mu.Lock()
	unwatch := a.unwatch
	a.unwatch = nil
	for c, b := range a.bindings {
		b.Destroy()
		delete(a.bindings, c)
	}
	if a.lanes != nil {
		a.lanes.Destroy()
		a.lanes = nil
	}
	a.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// SetFilterActive switches cross-lane drags off while a filter is applied and
// rebinds every container when the setting changes.
func (a *Adapter) SetFilterActive(active bool) {
	a.mu.Lock()
	changed := a.filterActive != active
	a.filterActive = active
	a.mu.Unlock()
	if changed {
		a.rebindAll()
	}
}

func (a *Adapter) FilterActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filterActive
}

// HandleMove reports whether a task may be dragged over to.
func (a *Adapter) HandleMove(from, to Container) bool {
	return !(a.FilterActive() && from.LaneID != to.LaneID)
}

// HandleDrop applies a finished task drag. Dropping back on the same slot
// returns a nil Pending and does nothing. A refused cross-lane drop rebinds
// both containers so the surface shows the task where it was.
func (a *Adapter) HandleDrop(ctx context.Context, ev DropEvent) (*board.Pending, error) {
	if ev.From == ev.To && ev.OldIndex == ev.NewIndex {
		a.logger.WithField("task_id", ev.TaskID).Debug("drop without change")
		return nil, nil
	}
	if !a.HandleMove(ev.From, ev.To) {
		a.rebind(ev.From.LaneID, ev.To.LaneID)
		return nil, fmt.Errorf("drop %s on %s: %w", ev.TaskID, ev.To, ErrCrossLaneDisabled)
	}
	if !ev.To.Status.Valid() {
		return nil, fmt.Errorf("drop %s: %w: %q", ev.TaskID, domain.ErrInvalidStatus, ev.To.Status)
	}
	a.logger.WithFields(log.Fields{
		"task_id": ev.TaskID,
		"from":    ev.From.String(),
		"to":      ev.To.String(),
		"index":   ev.NewIndex,
	}).Debug("task dropped")
	pos := ev.NewIndex
	return a.board.MoveTaskOptimistic(ctx, ev.TaskID, ev.To.Status, ev.To.LaneID, &pos), nil
}

// HandleLaneDrop applies a lane header reorder.
func (a *Adapter) HandleLaneDrop(ctx context.Context, ev LaneDropEvent) *board.Pending {
	if ev.OldIndex == ev.NewIndex || len(ev.Order) == 0 {
		return nil
	}
	return a.board.ReorderLanesOptimistic(ctx, ev.Order)
}

// Bound returns the containers that currently have a binding.
func (a *Adapter) Bound() []Container {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Container, 0, len(a.bindings))
	for c := range a.bindings {
		out = append(out, c)
	}
	return out
}

func (a *Adapter) onChange(c notify.Change) {
	switch {
	case c.Kind == notify.ChangeLaneLoading:
	case c.Structural():
		a.rebindAll()
	case len(c.LaneIDs) > 0:
		a.rebind(c.LaneIDs...)
	}
}

// rebindAll drops every binding and binds the containers of the current lanes.
func (a *Adapter) rebindAll() {
	lanes := a.board.Lanes()

	a.mu.Lock()
	defer a.mu.Unlock()
	for c, b := range a.bindings {
		b.Destroy()
		delete(a.bindings, c)
	}
	for _, l := range lanes {
		a.bindLane(l.ID)
	}
	if a.lanes != nil {
		a.lanes.Destroy()
		a.lanes = nil
	}
	b, err := a.surface.BindLanes()
	if err != nil {
		a.logger.WithError(err).Warn("bind lane headers failed")
		return
	}
	a.lanes = b
}

// rebind recreates the bindings of the given lanes' containers. Lanes that are
// no longer active lose their bindings.
func (a *Adapter) rebind(ids ...domain.ID) {
	active := make(map[domain.ID]bool)
	for _, l := range a.board.Lanes() {
		active[l.ID] = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		for _, st := range domain.Statuses {
			c := Container{LaneID: id, Status: st}
			if b, ok := a.bindings[c]; ok {
				b.Destroy()
				delete(a.bindings, c)
			}
		}
		if active[id] {
			a.bindLane(id)
		}
	}
}

func (a *Adapter) bindLane(id domain.ID) {
	for _, st := range domain.Statuses {
		c := Container{LaneID: id, Status: st}
		b, err := a.surface.Bind(c)
		if err != nil {
			a.logger.WithError(err).WithField("container", c.String()).Warn("bind container failed")
			continue
		}
		a.bindings[c] = b
	}
}
