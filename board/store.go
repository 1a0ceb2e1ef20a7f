package board

import (
	"context"
	"errors"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"board-sync/domain"
	"board-sync/notify"
	"board-sync/remote"
)

var (
	ErrUnknownLane = errors.New("unknown lane")
	ErrUnknownTask = errors.New("unknown task")
	ErrEmptyName   = errors.New("name must not be empty")
)

// Remote is the subset of the board server API the Store confirms mutations against.
type Remote interface {
	ActiveLanes(ctx context.Context) ([]domain.Lane, error)
	CompletedLanes(ctx context.Context) ([]domain.Lane, error)
	CreateLane(ctx context.Context, name string) (domain.Lane, error)
	ReorderLanes(ctx context.Context, ids []domain.ID) error
	CompleteLane(ctx context.Context, id domain.ID) (domain.Lane, error)
	UncompleteLane(ctx context.Context, id domain.ID) (domain.Lane, error)
	DeleteLane(ctx context.Context, id domain.ID) error

	LaneTasks(ctx context.Context, laneID domain.ID) ([]domain.Task, error)
	CreateTask(ctx context.Context, in remote.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id domain.ID, in remote.TaskInput) (domain.Task, error)
	MoveTask(ctx context.Context, id domain.ID, status domain.Status, laneID domain.ID, position *int) error
	DeleteTask(ctx context.Context, id domain.ID) error

	AddComment(ctx context.Context, taskID domain.ID, text string) (domain.Comment, error)
	UpdateComment(ctx context.Context, taskID, commentID domain.ID, text string) error
	DeleteComment(ctx context.Context, taskID, commentID domain.ID) error
}

// Store is the in-memory board: the active lane list, the completed lane list
// and one flat task collection. All mutation goes through its methods; readers
// get copies.
type Store struct {
	remote Remote
	pub    notify.Publisher
	logger *log.Logger

	mu        sync.Mutex
	lanes     []domain.Lane
	completed []domain.Lane
	tasks     []domain.Task

	loads    singleflight.Group
	inflight sync.WaitGroup

	obsMu     sync.Mutex
	observers map[int]func(notify.Change)
	nextObs   int
}

type Option func(*Store)

func WithPublisher(p notify.Publisher) Option {
	return func(s *Store) { s.pub = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(r Remote, opts ...Option) *Store {
	s := &Store{
		remote:    r,
		pub:       notify.Discard,
		logger:    log.StandardLogger(),
		observers: make(map[int]func(notify.Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to be called synchronously after every change, outside
// the Store lock. The returned function unregisters it.
func (s *Store) OnChange(fn func(notify.Change)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) emit(changes ...notify.Change) {
	s.obsMu.Lock()
	fns := make([]func(notify.Change), 0, len(s.observers))
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.obsMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
		s.pub.Publish(notify.ChangeMessage(c))
	}
}

func (s *Store) notice(text string, err error) {
	s.logger.WithError(err).Warn(text)
	s.pub.Publish(notify.NoticeMessage(notify.LevelError, text))
}

// confirm runs call on its own goroutine, detached from the caller's
// cancellation, and runs rollback if it fails.
func (s *Store) confirm(ctx context.Context, call func(context.Context) error, rollback func(error)) *Pending {
	p := newPending()
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		err := call(ctx)
		if err != nil && rollback != nil {
			rollback(err)
		}
		p.settle(err)
	}()
	return p
}

// Wait blocks until every pending confirmation has settled or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lanes returns the active lanes in display order.
func (s *Store) Lanes() []domain.Lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lanes)
}

func (s *Store) CompletedLanes() []domain.Lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.completed)
}

func (s *Store) Lane(id domain.ID) (domain.Lane, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.laneIndex(id); i >= 0 {
		return s.lanes[i], true
	}
	return domain.Lane{}, false
}

// Tasks returns every task in collection order.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTasks(s.tasks)
}

func (s *Store) Task(id domain.ID) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.taskIndex(id); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return domain.Task{}, false
}

// LaneTasks returns the tasks of one lane in collection order.
func (s *Store) LaneTasks(laneID domain.ID) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.LaneID == laneID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Column returns the tasks of one (lane, status) column sorted by position.
func (s *Store) Column(laneID domain.ID, status domain.Status) []domain.Task {
	s.mu.Lock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.LaneID == laneID && t.Status == status {
			out = append(out, t.Clone())
		}
	}
	s.mu.Unlock()
	domain.SortByPosition(out)
	return out
}

// Snapshot returns the active lanes and every task. Lanes whose tasks were
// never fetched are listed as deferred.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := domain.Snapshot{Lanes: slices.Clone(s.lanes), Tasks: cloneTasks(s.tasks)}
	for _, l := range s.lanes {
		if !l.TasksLoaded {
			snap.Deferred = append(snap.Deferred, l.ID)
		}
	}
	return snap
}

func (s *Store) laneIndex(id domain.ID) int {
	return slices.IndexFunc(s.lanes, func(l domain.Lane) bool { return l.ID == id })
}

func (s *Store) taskIndex(id domain.ID) int {
	return slices.IndexFunc(s.tasks, func(t domain.Task) bool { return t.ID == id })
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func sortLanes(lanes []domain.Lane) {
	slices.SortStableFunc(lanes, func(a, b domain.Lane) int { return a.Position - b.Position })
}

// insertAt inserts v at i, clamped to the slice bounds.
func insertAt[T any](s []T, i int, v T) []T {
	i = max(0, min(i, len(s)))
	return slices.Insert(s, i, v)
}
