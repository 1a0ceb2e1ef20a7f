package board

import (
	"slices"

	"board-sync/domain"
	"board-sync/notify"
)

// ApplyPushedTaskUpdate replaces the task with the same id or appends it. Pending
// optimistic writes to the same task are not protected: the last write wins.
func (s *Store) ApplyPushedTaskUpdate(task domain.Task) {
	s.mu.Lock()
	prev, _ := s.upsertTask(task)
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeTaskUpdated, TaskID: task.ID, LaneIDs: lanePair(prev, task.LaneID)})
}

// ApplyPushedTaskDelete removes the task if present.
func (s *Store) ApplyPushedTaskDelete(id domain.ID) {
	s.mu.Lock()
	i := s.taskIndex(id)
	var laneID domain.ID
	if i >= 0 {
		laneID = s.tasks[i].LaneID
		s.tasks = slices.Delete(s.tasks, i, i+1)
	}
	s.mu.Unlock()
	if i >= 0 {
		s.emit(notify.Change{Kind: notify.ChangeTaskRemoved, TaskID: id, LaneIDs: []domain.ID{laneID}})
	}
}

// ApplyPushedLaneUpdate merges a lane's server fields and keeps its client-only
// flags. A lane pushed as completed leaves the active list; an unknown active
// lane is added collapsed and unloaded unless it has no name.
func (s *Store) ApplyPushedLaneUpdate(lane domain.Lane) {
	s.mu.Lock()
	i := s.laneIndex(lane.ID)
	if i < 0 && !lane.Completed && lane.Name == "" {
		s.mu.Unlock()
		s.logger.WithField("lane_id", lane.ID).Debug("nameless lane update ignored")
		return
	}
	switch {
	case lane.Completed:
		if i >= 0 {
			s.lanes = slices.Delete(s.lanes, i, i+1)
			s.tasks = slices.DeleteFunc(s.tasks, func(t domain.Task) bool { return t.LaneID == lane.ID })
		}
		lane.Collapsed, lane.Loading, lane.TasksLoaded = false, false, false
		s.completed = upsertLane(s.completed, lane)
	case i >= 0:
		s.lanes[i] = mergeLane(s.lanes[i], lane)
	default:
		lane.Collapsed = true
		lane.Loading = false
		lane.TasksLoaded = false
		s.lanes = append(s.lanes, lane)
		s.completed = slices.DeleteFunc(s.completed, func(l domain.Lane) bool { return l.ID == lane.ID })
	}
	sortLanes(s.lanes)
	s.mu.Unlock()

	kind := notify.ChangeLaneUpdated
	if lane.Completed || i < 0 {
		kind = notify.ChangeLanesChanged
	}
	s.emit(notify.Change{Kind: kind, LaneIDs: []domain.ID{lane.ID}})
}

// ApplyPushedLaneDelete removes the lane and its tasks from the board. Unknown
// lanes are ignored.
func (s *Store) ApplyPushedLaneDelete(id domain.ID) {
	s.mu.Lock()
	i := s.laneIndex(id)
	if i >= 0 {
		s.lanes = slices.Delete(s.lanes, i, i+1)
		s.tasks = slices.DeleteFunc(s.tasks, func(t domain.Task) bool { return t.LaneID == id })
	}
	n := len(s.completed)
	s.completed = slices.DeleteFunc(s.completed, func(l domain.Lane) bool { return l.ID == id })
	removed := i >= 0 || len(s.completed) != n
	s.mu.Unlock()
	if removed {
		s.emit(notify.Change{Kind: notify.ChangeLanesChanged, LaneIDs: []domain.ID{id}})
	}
}

// ApplyEvent dispatches a decoded push event. Init and heartbeat events carry no
// board state.
func (s *Store) ApplyEvent(ev domain.Event) {
	switch ev.Kind {
	case domain.EventTaskUpdated:
		if ev.Task != nil {
			s.ApplyPushedTaskUpdate(*ev.Task)
		}
	case domain.EventTaskDeleted:
		s.ApplyPushedTaskDelete(ev.TaskID)
	case domain.EventLaneUpdated:
		if ev.Lane != nil {
			s.ApplyPushedLaneUpdate(*ev.Lane)
		}
	case domain.EventLaneDeleted:
		s.ApplyPushedLaneDelete(ev.LaneID)
	case domain.EventInit, domain.EventHeartbeat:
	default:
		s.logger.WithField("event", ev.Kind).Debug("push event ignored")
	}
}
