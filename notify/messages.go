package notify

import (
	"time"

	"board-sync/domain"
)

// Topic groups bus messages.
type Topic string

const (
	TopicChange     Topic = "change"
	TopicNotice     Topic = "notice"
	TopicConnection Topic = "connection"
)

// ChangeKind classifies a structural change to the board state.
type ChangeKind string

const (
	ChangeTaskUpdated     ChangeKind = "task-updated"
	ChangeTaskRemoved     ChangeKind = "task-removed"
	ChangeLaneUpdated     ChangeKind = "lane-updated"
	ChangeLanesChanged    ChangeKind = "lanes-changed"
	ChangeLanesReloaded   ChangeKind = "lanes-reloaded"
	ChangeLaneLoading     ChangeKind = "lane-loading"
	ChangeLaneTasksLoaded ChangeKind = "lane-tasks-loaded"
	ChangeHydrated        ChangeKind = "hydrated"
)

// Change describes which lanes a board mutation touched. LaneIDs lists every lane
// whose columns may have changed; TaskID is set for single-task changes.
type Change struct {
	Kind    ChangeKind  `json:"kind"`
	LaneIDs []domain.ID `json:"laneIds,omitempty"`
	TaskID  domain.ID   `json:"taskId,omitempty"`
}

// Structural reports whether the lane list itself changed, as opposed to the
// contents of some lanes.
func (c Change) Structural() bool {
	switch c.Kind {
	case ChangeLanesChanged, ChangeLanesReloaded, ChangeHydrated:
		return true
	}
	return false
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a user-facing message. Persistent notices stay until replaced by a
// connection state change.
type Notice struct {
	Level      Level  `json:"level"`
	Text       string `json:"text"`
	Persistent bool   `json:"persistent,omitempty"`
}

type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnReconnecting ConnState = "reconnecting"
	ConnExhausted    ConnState = "exhausted"
)

// Connection reports the push stream state. Attempt and Delay are set while reconnecting.
type Connection struct {
	State   ConnState     `json:"state"`
	Attempt int           `json:"attempt,omitempty"`
	Delay   time.Duration `json:"delayNs,omitempty"`
}

// Message is the unit carried by the bus. Exactly one payload is set, matching Topic.
type Message struct {
	Topic      Topic       `json:"topic"`
	At         time.Time   `json:"at"`
	Change     *Change     `json:"change,omitempty"`
	Notice     *Notice     `json:"notice,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
}

func ChangeMessage(c Change) Message {
	return Message{Topic: TopicChange, Change: &c}
}

func NoticeMessage(level Level, text string) Message {
	return Message{Topic: TopicNotice, Notice: &Notice{Level: level, Text: text}}
}

func ConnectionMessage(c Connection) Message {
	return Message{Topic: TopicConnection, Connection: &c}
}
