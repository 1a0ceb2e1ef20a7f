package domain

import "time"

// EventKind names a server push event.
type EventKind string

const (
	EventInit        EventKind = "init"
	EventTaskUpdated EventKind = "task-updated"
	EventTaskDeleted EventKind = "task-deleted"
	EventLaneUpdated EventKind = "lane-updated"
	// EventLaneDeleted is announced by the server as a lane-updated event with
	// isDeleted set.
	EventLaneDeleted EventKind = "lane-deleted"
	EventHeartbeat   EventKind = "heartbeat"
)

// Event is a decoded push event. Exactly one payload field is set, according to Kind:
// Task for task-updated, TaskID for task-deleted, Lane for lane-updated, LaneID for
// lane-deleted; init and heartbeat carry no payload.
type Event struct {
	Kind       EventKind
	Task       *Task
	Lane       *Lane
	TaskID     ID
	LaneID     ID
	ReceivedAt time.Time
}
