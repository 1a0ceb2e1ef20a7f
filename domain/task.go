package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ID is an opaque, server assigned identifier.
type ID string

func (id ID) String() string { return string(id) }

// Status is the column a task sits in within its lane.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusBlocked    Status = "BLOCKED"
	StatusDeferred   Status = "DEFERRED"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone, StatusBlocked, StatusDeferred}

var ErrInvalidStatus = errors.New("invalid task status")

func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// ParseStatus accepts the wire spelling of a status, case-insensitively.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// Task represents a single card on the board.
type Task struct {
	ID       ID        `json:"id"`
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	LaneID   ID        `json:"laneId"`
	Position *int      `json:"position,omitempty"`
	Tags     []string  `json:"tags"`
	Comments []Comment `json:"comments"`
}

// Clone returns a deep copy so callers never share slices or the position pointer.
func (t Task) Clone() Task {
	out := t
	out.Position = ClonePosition(t.Position)
	out.Tags = slices.Clone(t.Tags)
	if t.Comments != nil {
		out.Comments = make([]Comment, len(t.Comments))
		for i, c := range t.Comments {
			out.Comments[i] = c.Clone()
		}
	}
	return out
}

// Comment is owned by exactly one task.
type Comment struct {
	ID        ID         `json:"id"`
	Text      string     `json:"text"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (c Comment) Clone() Comment {
	out := c
	if c.CreatedAt != nil {
		ts := *c.CreatedAt
		out.CreatedAt = &ts
	}
	if c.UpdatedAt != nil {
		ts := *c.UpdatedAt
		out.UpdatedAt = &ts
	}
	return out
}

// LegacyCommentID synthesizes an id for comments stored as plain strings.
func LegacyCommentID(taskID ID, index int) ID {
	return ID(fmt.Sprintf("legacy-%s-%d", taskID, index))
}

// NormalizeTags trims tags and drops blanks and duplicates, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
