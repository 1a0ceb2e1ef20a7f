package board

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"board-sync/domain"
	"board-sync/notify"
	"board-sync/remote"
)

var errRemote = errors.New("remote unavailable")

// fakeRemote records calls and lets tests hold a call open with a gate channel.
type fakeRemote struct {
	mu    sync.Mutex
	calls map[string]int

	activeLanes    []domain.Lane
	activeErr      error
	completedLanes []domain.Lane
	laneTasks      map[domain.ID][]domain.Task
	laneErr        error
	laneGate       chan struct{}

	moveErr     error
	moveGate    chan struct{}
	reorderErr  error
	deleteErr   error
	completeErr error
	createErr   error
	updateErr   error
	commentErr  error

	nextID  int
	reorder [][]domain.ID
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{calls: make(map[string]int), laneTasks: make(map[domain.ID][]domain.Task), nextID: 100}
}

func (f *fakeRemote) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) newID() domain.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return domain.ID(strconv.Itoa(f.nextID))
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRemote) ActiveLanes(ctx context.Context) ([]domain.Lane, error) {
	f.record("ActiveLanes")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return append([]domain.Lane(nil), f.activeLanes...), nil
}

func (f *fakeRemote) CompletedLanes(ctx context.Context) ([]domain.Lane, error) {
	f.record("CompletedLanes")
	return append([]domain.Lane(nil), f.completedLanes...), nil
}

func (f *fakeRemote) CreateLane(ctx context.Context, name string) (domain.Lane, error) {
	f.record("CreateLane")
	if f.createErr != nil {
		return domain.Lane{}, f.createErr
	}
	return domain.Lane{ID: f.newID(), Name: name, Position: 99}, nil
}

func (f *fakeRemote) ReorderLanes(ctx context.Context, ids []domain.ID) error {
	f.record("ReorderLanes")
	f.mu.Lock()
	f.reorder = append(f.reorder, ids)
	f.mu.Unlock()
	return f.reorderErr
}

func (f *fakeRemote) CompleteLane(ctx context.Context, id domain.ID) (domain.Lane, error) {
	f.record("CompleteLane")
	if f.completeErr != nil {
		return domain.Lane{}, f.completeErr
	}
	return domain.Lane{ID: id, Name: "done", Completed: true}, nil
}

func (f *fakeRemote) UncompleteLane(ctx context.Context, id domain.ID) (domain.Lane, error) {
	f.record("UncompleteLane")
	return domain.Lane{ID: id, Name: "reopened", Position: 5}, nil
}

func (f *fakeRemote) DeleteLane(ctx context.Context, id domain.ID) error {
	f.record("DeleteLane")
	return f.deleteErr
}

func (f *fakeRemote) LaneTasks(ctx context.Context, laneID domain.ID) ([]domain.Task, error) {
	f.record("LaneTasks")
	if err := wait(ctx, f.laneGate); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.laneErr != nil {
		return nil, f.laneErr
	}
	return append([]domain.Task(nil), f.laneTasks[laneID]...), nil
}

func (f *fakeRemote) CreateTask(ctx context.Context, in remote.TaskInput) (domain.Task, error) {
	f.record("CreateTask")
	if f.createErr != nil {
		return domain.Task{}, f.createErr
	}
	return domain.Task{ID: f.newID(), Name: in.Name, Status: in.Status, LaneID: in.LaneID, Tags: in.Tags}, nil
}

func (f *fakeRemote) UpdateTask(ctx context.Context, id domain.ID, in remote.TaskInput) (domain.Task, error) {
	f.record("UpdateTask")
	if f.updateErr != nil {
		return domain.Task{}, f.updateErr
	}
	return domain.Task{ID: id, Name: in.Name, Status: in.Status, LaneID: in.LaneID, Tags: in.Tags}, nil
}

func (f *fakeRemote) MoveTask(ctx context.Context, id domain.ID, status domain.Status, laneID domain.ID, position *int) error {
	f.record("MoveTask")
	if err := wait(ctx, f.moveGate); err != nil {
		return err
	}
	return f.moveErr
}

func (f *fakeRemote) DeleteTask(ctx context.Context, id domain.ID) error {
	f.record("DeleteTask")
	return f.deleteErr
}

func (f *fakeRemote) AddComment(ctx context.Context, taskID domain.ID, text string) (domain.Comment, error) {
	f.record("AddComment")
	if f.commentErr != nil {
		return domain.Comment{}, f.commentErr
	}
	return domain.Comment{ID: f.newID(), Text: text}, nil
}

func (f *fakeRemote) UpdateComment(ctx context.Context, taskID, commentID domain.ID, text string) error {
	f.record("UpdateComment")
	return f.commentErr
}

func (f *fakeRemote) DeleteComment(ctx context.Context, taskID, commentID domain.ID) error {
	f.record("DeleteComment")
	return f.commentErr
}

// recorder is a Publisher that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Publish(m notify.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.Notice != nil {
			out = append(out, m.Notice.Text)
		}
	}
	return out
}
