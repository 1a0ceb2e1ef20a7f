package board

import (
	"context"
	"fmt"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/notify"
)

// LoadLanes replaces the active lane list with the server's. Every lane is
// marked loading and not loaded; known lanes keep their collapsed flag and new
// lanes start collapsed. Tasks of lanes that are no longer active are dropped.
func (s *Store) LoadLanes(ctx context.Context) ([]domain.Lane, error) {
	lanes, err := s.remote.ActiveLanes(ctx)
	if err != nil {
		s.notice("Failed to load lanes", err)
		return nil, fmt.Errorf("load lanes: %w", err)
	}

	s.mu.Lock()
	collapsed := make(map[domain.ID]bool, len(s.lanes))
	for _, l := range s.lanes {
		collapsed[l.ID] = l.Collapsed
	}
	next := make([]domain.Lane, 0, len(lanes))
	active := make(map[domain.ID]bool, len(lanes))
	for _, l := range lanes {
		if l.Completed {
			continue
		}
		c, known := collapsed[l.ID]
		l.Collapsed = !known || c
		l.Loading = true
		l.TasksLoaded = false
		next = append(next, l)
		active[l.ID] = true
	}
	sortLanes(next)
	s.lanes = next
	s.tasks = slices.DeleteFunc(s.tasks, func(t domain.Task) bool { return !active[t.LaneID] })
	out := slices.Clone(s.lanes)
	s.mu.Unlock()

	s.emit(notify.Change{Kind: notify.ChangeLanesReloaded, LaneIDs: laneIDs(out)})
	return out, nil
}

// LoadCompletedLanes refreshes the completed lane list.
func (s *Store) LoadCompletedLanes(ctx context.Context) ([]domain.Lane, error) {
	lanes, err := s.remote.CompletedLanes(ctx)
	if err != nil {
		s.notice("Failed to load completed lanes", err)
		return nil, fmt.Errorf("load completed lanes: %w", err)
	}
	sortLanes(lanes)
	s.mu.Lock()
	s.completed = slices.Clone(lanes)
	s.mu.Unlock()
	return lanes, nil
}

// LoadLaneTasks fetches one lane's tasks and replaces that lane's tasks in the
// collection. Tasks whose id reappears are dropped from their old lane first.
// Concurrent calls for the same lane share one request.
func (s *Store) LoadLaneTasks(ctx context.Context, laneID domain.ID) ([]domain.Task, error) {
	v, err, _ := s.loads.Do(laneID.String(), func() (any, error) {
		return s.loadLaneTasks(context.WithoutCancel(ctx), laneID)
	})
	if err != nil {
		return nil, err
	}
	return cloneTasks(v.([]domain.Task)), nil
}

func (s *Store) loadLaneTasks(ctx context.Context, laneID domain.ID) ([]domain.Task, error) {
	s.mu.Lock()
	i := s.laneIndex(laneID)
	if i < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("load lane %s: %w", laneID, ErrUnknownLane)
	}
	s.lanes[i].Loading = true
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeLaneLoading, LaneIDs: []domain.ID{laneID}})

	tasks, err := s.remote.LaneTasks(ctx, laneID)
	if err != nil {
		s.mu.Lock()
		if i := s.laneIndex(laneID); i >= 0 {
			s.lanes[i].Loading = false
			s.lanes[i].TasksLoaded = false
		}
		s.mu.Unlock()
		s.emit(notify.Change{Kind: notify.ChangeLaneLoading, LaneIDs: []domain.ID{laneID}})
		s.notice("Failed to load lane tasks", err)
		return nil, fmt.Errorf("load lane %s: %w", laneID, err)
	}

	incoming := make(map[domain.ID]bool, len(tasks))
	for _, t := range tasks {
		incoming[t.ID] = true
	}
	touched := []domain.ID{laneID}

	s.mu.Lock()
	i = s.laneIndex(laneID)
	if i < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("load lane %s: %w", laneID, ErrUnknownLane)
	}
	s.tasks = slices.DeleteFunc(s.tasks, func(t domain.Task) bool {
		if t.LaneID == laneID {
			return true
		}
		if incoming[t.ID] {
			touched = appendUnique(touched, t.LaneID)
			return true
		}
		return false
	})
	for _, t := range tasks {
		s.tasks = append(s.tasks, t.Clone())
	}
	s.lanes[i].Loading = false
	s.lanes[i].TasksLoaded = true
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{"lane_id": laneID, "tasks": len(tasks)}).Debug("lane tasks loaded")
	s.emit(notify.Change{Kind: notify.ChangeLaneTasksLoaded, LaneIDs: touched})
	return tasks, nil
}

// DeferLaneLoads clears the loading flag of lanes whose tasks will not be
// fetched until they are expanded.
func (s *Store) DeferLaneLoads(ids ...domain.ID) {
	var changed []domain.ID
	s.mu.Lock()
	for _, id := range ids {
		if i := s.laneIndex(id); i >= 0 && s.lanes[i].Loading {
			s.lanes[i].Loading = false
			changed = append(changed, id)
		}
	}
	s.mu.Unlock()
	if len(changed) > 0 {
		s.emit(notify.Change{Kind: notify.ChangeLaneLoading, LaneIDs: changed})
	}
}

func (s *Store) SetCollapsed(id domain.ID, collapsed bool) error {
	s.mu.Lock()
	i := s.laneIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("collapse lane %s: %w", id, ErrUnknownLane)
	}
	changed := s.lanes[i].Collapsed != collapsed
	s.lanes[i].Collapsed = collapsed
	s.mu.Unlock()
	if changed {
		s.emit(notify.Change{Kind: notify.ChangeLaneUpdated, LaneIDs: []domain.ID{id}})
	}
	return nil
}

// ReorderLanesOptimistic puts the listed lanes first, in the given order,
// followed by any unlisted lanes in their current order, and renumbers
// positions. A remote failure triggers a full lane reload.
func (s *Store) ReorderLanesOptimistic(ctx context.Context, ordered []domain.ID) *Pending {
	s.mu.Lock()
	next := make([]domain.Lane, 0, len(s.lanes))
	seen := make(map[domain.ID]bool, len(ordered))
	for _, id := range ordered {
		i := s.laneIndex(id)
		if i < 0 {
			s.mu.Unlock()
			return resolved(fmt.Errorf("reorder lanes: %s: %w", id, ErrUnknownLane))
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		next = append(next, s.lanes[i])
	}
	for _, l := range s.lanes {
		if !seen[l.ID] {
			next = append(next, l)
		}
	}
	for i := range next {
		next[i].Position = i
	}
	s.lanes = next
	ids := laneIDs(next)
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeLanesChanged, LaneIDs: ids})

	return s.confirm(ctx, func(ctx context.Context) error {
		return s.remote.ReorderLanes(ctx, ids)
	}, func(err error) {
		s.notice("Failed to reorder lanes", err)
		if _, rerr := s.LoadLanes(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.WithError(rerr).Warn("lane resync after reorder failure failed")
		}
	})
}

// CreateLane waits for the server to assign an id before adding the lane.
func (s *Store) CreateLane(ctx context.Context, name string) (domain.Lane, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Lane{}, fmt.Errorf("create lane: %w", ErrEmptyName)
	}
	lane, err := s.remote.CreateLane(ctx, name)
	if err != nil {
		s.notice("Failed to create lane", err)
		return domain.Lane{}, fmt.Errorf("create lane: %w", err)
	}
	lane.Collapsed = false
	lane.Loading = false
	lane.TasksLoaded = true

	s.mu.Lock()
	if i := s.laneIndex(lane.ID); i >= 0 {
		s.lanes[i] = mergeLane(s.lanes[i], lane)
		lane = s.lanes[i]
	} else {
		s.lanes = append(s.lanes, lane)
	}
	sortLanes(s.lanes)
	s.mu.Unlock()

	s.emit(notify.Change{Kind: notify.ChangeLanesChanged, LaneIDs: []domain.ID{lane.ID}})
	return lane, nil
}

// DeleteLane removes the lane and its tasks immediately and restores both when
// the server rejects the delete.
func (s *Store) DeleteLane(ctx context.Context, id domain.ID) *Pending {
	removed, err := s.detachLane(id)
	if err != nil {
		return resolved(fmt.Errorf("delete lane: %w", err))
	}
	return s.confirm(ctx, func(ctx context.Context) error {
		return s.remote.DeleteLane(ctx, id)
	}, func(err error) {
		s.restoreLane(removed)
		s.notice("Failed to delete lane", err)
	})
}

// CompleteLane moves the lane out of the active list immediately and restores it
// when the server rejects the change.
func (s *Store) CompleteLane(ctx context.Context, id domain.ID) *Pending {
	removed, err := s.detachLane(id)
	if err != nil {
		return resolved(fmt.Errorf("complete lane: %w", err))
	}
	return s.confirm(ctx, func(ctx context.Context) error {
		lane, err := s.remote.CompleteLane(ctx, id)
		if err != nil {
			return err
		}
		lane.Completed = true
		s.mu.Lock()
		s.completed = upsertLane(s.completed, lane)
		s.mu.Unlock()
		return nil
	}, func(err error) {
		s.restoreLane(removed)
		s.notice("Failed to complete lane", err)
	})
}

// UncompleteLane waits for the server and then returns the lane to the active
// list, collapsed and unloaded.
func (s *Store) UncompleteLane(ctx context.Context, id domain.ID) (domain.Lane, error) {
	lane, err := s.remote.UncompleteLane(ctx, id)
	if err != nil {
		s.notice("Failed to reopen lane", err)
		return domain.Lane{}, fmt.Errorf("uncomplete lane: %w", err)
	}
	lane.Completed = false
	lane.Collapsed = true
	lane.TasksLoaded = false
	lane.Loading = false

	s.mu.Lock()
	s.completed = slices.DeleteFunc(s.completed, func(l domain.Lane) bool { return l.ID == lane.ID })
	if i := s.laneIndex(lane.ID); i >= 0 {
		s.lanes[i] = mergeLane(s.lanes[i], lane)
		lane = s.lanes[i]
	} else {
		s.lanes = append(s.lanes, lane)
	}
	sortLanes(s.lanes)
	s.mu.Unlock()

	s.emit(notify.Change{Kind: notify.ChangeLanesChanged, LaneIDs: []domain.ID{lane.ID}})
	return lane, nil
}

type detachedLane struct {
	lane  domain.Lane
	index int
	tasks []indexedTask
}

type indexedTask struct {
	task  domain.Task
	index int
}

func (s *Store) detachLane(id domain.ID) (detachedLane, error) {
	s.mu.Lock()
	i := s.laneIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return detachedLane{}, fmt.Errorf("%s: %w", id, ErrUnknownLane)
	}
	d := detachedLane{lane: s.lanes[i], index: i}
	s.lanes = slices.Delete(s.lanes, i, i+1)
	kept := s.tasks[:0]
	for idx, t := range s.tasks {
		if t.LaneID == id {
			d.tasks = append(d.tasks, indexedTask{task: t, index: idx})
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	s.mu.Unlock()

	s.emit(notify.Change{Kind: notify.ChangeLanesChanged, LaneIDs: []domain.ID{id}})
	return d, nil
}

// restoreLane puts a detached lane back at its prior index unless something
// re-added it meanwhile. Tasks go back to their prior indexes when their id is
// not already present.
func (s *Store) restoreLane(d detachedLane) {
	s.mu.Lock()
	if s.laneIndex(d.lane.ID) < 0 {
		s.lanes = insertAt(s.lanes, d.index, d.lane)
	}
	for _, it := range d.tasks {
		if s.taskIndex(it.task.ID) < 0 {
			s.tasks = insertAt(s.tasks, it.index, it.task)
		}
	}
	s.completed = slices.DeleteFunc(s.completed, func(l domain.Lane) bool { return l.ID == d.lane.ID })
	s.mu.Unlock()
	s.emit(notify.Change{Kind: notify.ChangeLanesChanged, LaneIDs: []domain.ID{d.lane.ID}})
}

// mergeLane takes the server fields of in and keeps the client-only flags of cur.
func mergeLane(cur, in domain.Lane) domain.Lane {
	cur.Name = in.Name
	cur.Position = in.Position
	cur.Completed = in.Completed
	return cur
}

func upsertLane(lanes []domain.Lane, lane domain.Lane) []domain.Lane {
	if i := slices.IndexFunc(lanes, func(l domain.Lane) bool { return l.ID == lane.ID }); i >= 0 {
		lanes[i] = lane
		return lanes
	}
	return append(lanes, lane)
}

func laneIDs(lanes []domain.Lane) []domain.ID {
	ids := make([]domain.ID, len(lanes))
	for i, l := range lanes {
		ids[i] = l.ID
	}
	return ids
}

func appendUnique(ids []domain.ID, id domain.ID) []domain.ID {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
