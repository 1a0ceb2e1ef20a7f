package board

import (
	"fmt"

	"board-sync/domain"
	"board-sync/notify"
	"board-sync/remote"
)

// Hydrate replaces the board with snap. Every included active lane counts as
// loaded unless snap lists it as deferred; lanes with tasks start expanded and
// empty lanes start collapsed. Completed lanes go to the completed list and tasks
// of unknown lanes are dropped.
func (s *Store) Hydrate(snap domain.Snapshot) {
	counts := make(map[domain.ID]int, len(snap.Lanes))
	for _, t := range snap.Tasks {
		counts[t.LaneID]++
	}
	deferred := make(map[domain.ID]bool, len(snap.Deferred))
	for _, id := range snap.Deferred {
		deferred[id] = true
	}

	lanes := make([]domain.Lane, 0, len(snap.Lanes))
	var completed []domain.Lane
	active := make(map[domain.ID]bool, len(snap.Lanes))
	for _, l := range snap.Lanes {
		l.Loading = false
		if l.Completed {
			l.TasksLoaded = false
			completed = append(completed, l)
			continue
		}
		l.TasksLoaded = !deferred[l.ID]
		l.Collapsed = counts[l.ID] == 0
		lanes = append(lanes, l)
		active[l.ID] = true
	}
	sortLanes(lanes)
	sortLanes(completed)

	tasks := make([]domain.Task, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if active[t.LaneID] {
			tasks = append(tasks, t.Clone())
		}
	}

	s.mu.Lock()
	s.lanes = lanes
	s.completed = completed
	s.tasks = tasks
	s.mu.Unlock()

	s.emit(notify.Change{Kind: notify.ChangeHydrated, LaneIDs: laneIDs(lanes)})
}

// HydrateFromPayload decodes an initial-state payload and hydrates from it. The
// Store is left untouched when the payload does not parse.
func (s *Store) HydrateFromPayload(data []byte) error {
	snap, err := remote.DecodeSnapshot(data)
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	s.Hydrate(snap)
	return nil
}
