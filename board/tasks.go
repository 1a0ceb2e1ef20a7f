package board

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/notify"
	"board-sync/remote"
)

// placement is the part of a task a move changes and a failed move restores.
type placement struct {
	status   domain.Status
	laneID   domain.ID
	position *int
}

// MoveTaskOptimistic moves a task to (laneID, status) at position. The new
// placement is visible to readers when it returns. On remote failure exactly the
// previous status, lane and position are restored; on success the response is
// ignored. A task that is not in the Store is a no-op.
func (s *Store) MoveTaskOptimistic(ctx context.Context, id domain.ID, status domain.Status, laneID domain.ID, position *int) *Pending {
	if !status.Valid() {
		return resolved(fmt.Errorf("move task %s: %w", id, domain.ErrInvalidStatus))
	}

	s.mu.Lock()
	i := s.taskIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.logger.WithField("task_id", id).Debug("move of unknown task ignored")
		return resolved(nil)
	}
	if laneID == "" {
		laneID = s.tasks[i].LaneID
	}
	t := &s.tasks[i]
	prev := placement{status: t.Status, laneID: t.LaneID, position: domain.ClonePosition(t.Position)}
	t.Status = status
	t.LaneID = laneID
	t.Position = domain.ClonePosition(position)
	s.mu.Unlock()

	s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: id, LaneIDs: lanePair(prev.laneID, laneID)})

	return s.confirm(ctx, func(ctx context.Context) error {
		return s.remote.MoveTask(ctx, id, status, laneID, position)
	}, func(err error) {
		s.mu.Lock()
		i := s.taskIndex(id)
		var cur domain.ID
		if i >= 0 {
			t := &s.tasks[i]
			cur = t.LaneID
			t.Status = prev.status
			t.LaneID = prev.laneID
			t.Position = prev.position
		}
		s.mu.Unlock()
		if i >= 0 {
			s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: id, LaneIDs: lanePair(cur, prev.laneID)})
		}
		s.logger.WithFields(log.Fields{"task_id": id, "status": status, "lane_id": laneID}).Warn("move rolled back")
		s.notice("Failed to move task", err)
	})
}

// CreateTask waits for the server to assign an id before adding the task. An
// empty status means TODO.
func (s *Store) CreateTask(ctx context.Context, in remote.TaskInput) (domain.Task, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Task{}, fmt.Errorf("create task: %w", ErrEmptyName)
	}
	if in.Status == "" {
		in.Status = domain.StatusTodo
	}
	if _, ok := s.Lane(in.LaneID); !ok {
		return domain.Task{}, fmt.Errorf("create task: %s: %w", in.LaneID, ErrUnknownLane)
	}
	task, err := s.remote.CreateTask(ctx, in)
	if err != nil {
		s.notice("Failed to create task", err)
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}

	s.mu.Lock()
	s.upsertTask(task)
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: task.ID, LaneIDs: []domain.ID{task.LaneID}})
	return task.Clone(), nil
}

// UpdateTask changes a task's name and tags. Only those two fields are restored
// when the server rejects the change.
func (s *Store) UpdateTask(ctx context.Context, id domain.ID, name string, tags []string) *Pending {
	name = strings.TrimSpace(name)
	if name == "" {
		return resolved(fmt.Errorf("update task %s: %w", id, ErrEmptyName))
	}
	tags = domain.NormalizeTags(tags)

	s.mu.Lock()
	i := s.taskIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return resolved(fmt.Errorf("update task %s: %w", id, ErrUnknownTask))
	}
	t := &s.tasks[i]
	prevName, prevTags := t.Name, slices.Clone(t.Tags)
	t.Name = name
	t.Tags = slices.Clone(tags)
	in := remote.TaskInput{Name: name, Status: t.Status, LaneID: t.LaneID, Tags: tags}
	laneID := t.LaneID
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: id, LaneIDs: []domain.ID{laneID}})

	return s.confirm(ctx, func(ctx context.Context) error {
		_, err := s.remote.UpdateTask(ctx, id, in)
		return err
	}, func(err error) {
		s.mu.Lock()
		i := s.taskIndex(id)
		if i >= 0 {
			s.tasks[i].Name = prevName
			s.tasks[i].Tags = prevTags
			laneID = s.tasks[i].LaneID
		}
		s.mu.Unlock()
		if i >= 0 {
			s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: id, LaneIDs: []domain.ID{laneID}})
		}
		s.notice("Failed to update task", err)
	})
}

// DeleteTask removes the task immediately and puts it back at its prior index
// when the server rejects the delete.
func (s *Store) DeleteTask(ctx context.Context, id domain.ID) *Pending {
	s.mu.Lock()
	i := s.taskIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return resolved(fmt.Errorf("delete task %s: %w", id, ErrUnknownTask))
	}
	removed := s.tasks[i]
	s.tasks = slices.Delete(s.tasks, i, i+1)
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeTaskRemoved, TaskID: id, LaneIDs: []domain.ID{removed.LaneID}})

	return s.confirm(ctx, func(ctx context.Context) error {
		return s.remote.DeleteTask(ctx, id)
	}, func(err error) {
		s.mu.Lock()
		restored := s.taskIndex(id) < 0
		if restored {
			s.tasks = insertAt(s.tasks, i, removed)
		}
		s.mu.Unlock()
		if restored {
			s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: id, LaneIDs: []domain.ID{removed.LaneID}})
		}
		s.notice("Failed to delete task", err)
	})
}

// AddComment waits for the server to store the comment before appending it.
func (s *Store) AddComment(ctx context.Context, taskID domain.ID, text string) (domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, fmt.Errorf("add comment: %w", ErrEmptyName)
	}
	if _, ok := s.Task(taskID); !ok {
		return domain.Comment{}, fmt.Errorf("add comment: %s: %w", taskID, ErrUnknownTask)
	}
	c, err := s.remote.AddComment(ctx, taskID, text)
	if err != nil {
		s.notice("Failed to add comment", err)
		return domain.Comment{}, fmt.Errorf("add comment: %w", err)
	}

	s.mu.Lock()
	var laneID domain.ID
	i := s.taskIndex(taskID)
	if i >= 0 {
		t := &s.tasks[i]
		laneID = t.LaneID
		if !slices.ContainsFunc(t.Comments, func(x domain.Comment) bool { return x.ID == c.ID }) {
			t.Comments = append(t.Comments, c.Clone())
		}
	}
	s.mu.Unlock()
	if i >= 0 {
		s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: taskID, LaneIDs: []domain.ID{laneID}})
	}
	return c, nil
}

// UpdateComment changes a comment's text and restores it on failure.
func (s *Store) UpdateComment(ctx context.Context, taskID, commentID domain.ID, text string) *Pending {
	text = strings.TrimSpace(text)
	if text == "" {
		return resolved(fmt.Errorf("update comment: %w", ErrEmptyName))
	}
	s.mu.Lock()
	ti, ci := s.commentIndex(taskID, commentID)
	if ci < 0 {
		s.mu.Unlock()
		return resolved(fmt.Errorf("update comment %s/%s: %w", taskID, commentID, ErrUnknownTask))
	}
	t := &s.tasks[ti]
	prev := t.Comments[ci].Clone()
	now := time.Now().UTC()
	t.Comments[ci].Text = text
	t.Comments[ci].UpdatedAt = &now
	laneID := t.LaneID
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: taskID, LaneIDs: []domain.ID{laneID}})

	return s.confirm(ctx, func(ctx context.Context) error {
		return s.remote.UpdateComment(ctx, taskID, commentID, text)
	}, func(err error) {
		s.mu.Lock()
		ti, ci := s.commentIndex(taskID, commentID)
		if ci >= 0 {
			s.tasks[ti].Comments[ci] = prev
		}
		s.mu.Unlock()
		if ci >= 0 {
			s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: taskID, LaneIDs: []domain.ID{laneID}})
		}
		s.notice("Failed to update comment", err)
	})
}

// DeleteComment removes a comment and restores it at its prior index on failure.
func (s *Store) DeleteComment(ctx context.Context, taskID, commentID domain.ID) *Pending {
	s.mu.Lock()
	ti, ci := s.commentIndex(taskID, commentID)
	if ci < 0 {
		s.mu.Unlock()
		return resolved(fmt.Errorf("delete comment %s/%s: %w", taskID, commentID, ErrUnknownTask))
	}
	t := &s.tasks[ti]
	removed := t.Comments[ci]
	t.Comments = slices.Delete(t.Comments, ci, ci+1)
	laneID := t.LaneID
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: taskID, LaneIDs: []domain.ID{laneID}})

	return s.confirm(ctx, func(ctx context.Context) error {
		return s.remote.DeleteComment(ctx, taskID, commentID)
	}, func(err error) {
		s.mu.Lock()
		ti, cur := s.commentIndex(taskID, commentID)
		restored := ti >= 0 && cur < 0
		if restored {
			s.tasks[ti].Comments = insertAt(s.tasks[ti].Comments, ci, removed)
		}
		s.mu.Unlock()
		if restored {
			s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: taskID, LaneIDs: []domain.ID{laneID}})
		}
		s.notice("Failed to delete comment", err)
	})
}

// commentIndex returns the task index and the comment index within it; either
// is -1 when absent.
func (s *Store) commentIndex(taskID, commentID domain.ID) (int, int) {
	ti := s.taskIndex(taskID)
	if ti < 0 {
		return -1, -1
	}
	ci := slices.IndexFunc(s.tasks[ti].Comments, func(c domain.Comment) bool { return c.ID == commentID })
	return ti, ci
}

// upsertTask replaces the task with the same id or appends it.
func (s *Store) upsertTask(task domain.Task) (prevLane domain.ID, existed bool) {
	if i := s.taskIndex(task.ID); i >= 0 {
		prevLane = s.tasks[i].LaneID
		s.tasks[i] = task.Clone()
		return prevLane, true
	}
	s.tasks = append(s.tasks, task.Clone())
	return "", false
}

func lanePair(a, b domain.ID) []domain.ID {
	if a == b || a == "" {
		return []domain.ID{b}
	}
	return []domain.ID{a, b}
}
