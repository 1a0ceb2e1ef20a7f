package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"board-sync/domain"
)

var codec = sonic.ConfigStd

// wireID accepts both numeric and string identifiers and emits numeric-looking ids
// back as JSON numbers.
type wireID string

func (id *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*id = ""
	case b[0] == '"':
		var s string
		if err := codec.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = wireID(strings.TrimSpace(s))
	case isNumber(b):
		*id = wireID(b)
	default:
		return fmt.Errorf("invalid id %s", b)
	}
	return nil
}

func (id wireID) MarshalJSON() ([]byte, error) {
	if isNumber([]byte(id)) {
		return []byte(id), nil
	}
	return codec.Marshal(string(id))
}

func isNumber(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for i, c := range b {
		if c == '-' && i == 0 && len(b) > 1 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// wireTags accepts a list of strings or a JSON-encoded list stored as a string.
type wireTags []string

func (t *wireTags) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := codec.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*t = nil
			return nil
		}
		b = []byte(raw)
	}
	var tags []string
	if err := codec.Unmarshal(b, &tags); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	*t = domain.NormalizeTags(tags)
	return nil
}

// wireTime accepts RFC 3339, zone-less ISO timestamps (read as UTC) and the
// [year, month, day, hour, minute, second, nanos] array form. Anything else decodes to nil.
type wireTime struct{ t *time.Time }

var isoLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	w.t = nil
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '[' {
		var parts []int
		if err := codec.Unmarshal(b, &parts); err != nil || len(parts) < 3 {
			return nil
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		ts := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.UTC)
		w.t = &ts
		return nil
	}
	var s string
	if err := codec.Unmarshal(b, &s); err != nil {
		return nil
	}
	for _, layout := range isoLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			w.t = &ts
			return nil
		}
	}
	return nil
}

func (w wireTime) MarshalJSON() ([]byte, error) {
	if w.t == nil {
		return []byte("null"), nil
	}
	return codec.Marshal(w.t.UTC().Format(time.RFC3339Nano))
}

type wireComment struct {
	ID        wireID   `json:"id"`
	Text      string   `json:"text"`
	CreatedAt wireTime `json:"createdAt"`
	UpdatedAt wireTime `json:"updatedAt"`
}

// wireComments accepts comment objects, legacy plain strings, or a JSON-encoded
// list stored as a string.
type wireComments []wireComment

func (cs *wireComments) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*cs = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := codec.Unmarshal(b, &raw); err != nil {
			return err
		}
		if strings.TrimSpace(raw) == "" {
			*cs = nil
			return nil
		}
		b = []byte(raw)
	}
	var items []json.RawMessage
	if err := codec.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("comments: %w", err)
	}
	out := make(wireComments, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var text string
			if err := codec.Unmarshal(item, &text); err != nil {
				return fmt.Errorf("comments: %w", err)
			}
			out = append(out, wireComment{Text: text})
			continue
		}
		var c wireComment
		if err := codec.Unmarshal(item, &c); err != nil {
			return fmt.Errorf("comments: %w", err)
		}
		out = append(out, c)
	}
	*cs = out
	return nil
}

type laneRef struct {
	ID wireID `json:"id"`
}

type wireTask struct {
	ID         wireID       `json:"id"`
	Name       string       `json:"name"`
	Status     string       `json:"status"`
	SwimLane   *laneRef     `json:"swimLane,omitempty"`
	SwimLaneID wireID       `json:"swimLaneId,omitempty"`
	LaneID     wireID       `json:"laneId,omitempty"`
	Position   *int         `json:"position,omitempty"`
	Tags       wireTags     `json:"tags,omitempty"`
	Comments   wireComments `json:"comments,omitempty"`
}

type wireLane struct {
	ID          wireID `json:"id"`
	Name        string `json:"name"`
	Position    *int   `json:"position,omitempty"`
	IsCompleted *bool  `json:"isCompleted,omitempty"`
	Completed   *bool  `json:"completed,omitempty"`
	IsDeleted   bool   `json:"isDeleted,omitempty"`
	TasksLoaded *bool  `json:"tasksLoaded,omitempty"`
}

func (w wireTask) toDomain() (domain.Task, error) {
	if w.ID == "" {
		return domain.Task{}, errors.New("task without id")
	}
	status, err := domain.ParseStatus(w.Status)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", w.ID, err)
	}
	lane := w.LaneID
	if w.SwimLane != nil && w.SwimLane.ID != "" {
		lane = w.SwimLane.ID
	} else if w.SwimLaneID != "" {
		lane = w.SwimLaneID
	}
	if lane == "" {
		return domain.Task{}, fmt.Errorf("task %s has no lane", w.ID)
	}
	task := domain.Task{
		ID:       domain.ID(w.ID),
		Name:     w.Name,
		Status:   status,
		LaneID:   domain.ID(lane),
		Position: domain.ClonePosition(w.Position),
		Tags:     []string(w.Tags),
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}
	task.Comments = make([]domain.Comment, 0, len(w.Comments))
	for i, c := range w.Comments {
		task.Comments = append(task.Comments, c.toDomain(task.ID, i))
	}
	return task, nil
}

func (c wireComment) toDomain(taskID domain.ID, index int) domain.Comment {
	id := domain.ID(c.ID)
	if id == "" {
		id = domain.LegacyCommentID(taskID, index)
	}
	return domain.Comment{ID: id, Text: c.Text, CreatedAt: c.CreatedAt.t, UpdatedAt: c.UpdatedAt.t}
}

func (w wireLane) toDomain() (domain.Lane, error) {
	if w.ID == "" {
		return domain.Lane{}, errors.New("lane without id")
	}
	lane := domain.Lane{ID: domain.ID(w.ID), Name: w.Name}
	if w.Position != nil {
		lane.Position = *w.Position
	}
	switch {
	case w.IsCompleted != nil:
		lane.Completed = *w.IsCompleted
	case w.Completed != nil:
		lane.Completed = *w.Completed
	}
	return lane, nil
}

func fromDomainTask(t domain.Task) wireTask {
	w := wireTask{
		ID:       wireID(t.ID),
		Name:     t.Name,
		Status:   string(t.Status),
		SwimLane: &laneRef{ID: wireID(t.LaneID)},
		Position: domain.ClonePosition(t.Position),
		Tags:     wireTags(t.Tags),
	}
	for _, c := range t.Comments {
		w.Comments = append(w.Comments, wireComment{ID: wireID(c.ID), Text: c.Text, CreatedAt: wireTime{c.CreatedAt}, UpdatedAt: wireTime{c.UpdatedAt}})
	}
	return w
}

func fromDomainLane(l domain.Lane) wireLane {
	pos := l.Position
	completed := l.Completed
	return wireLane{ID: wireID(l.ID), Name: l.Name, Position: &pos, IsCompleted: &completed}
}

// DecodeTask decodes and validates a single task payload.
func DecodeTask(data []byte) (domain.Task, error) {
	var w wireTask
	if err := codec.Unmarshal(data, &w); err != nil {
		return domain.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return w.toDomain()
}

// DecodeTasks decodes and validates a task list. One invalid task fails the whole list.
func DecodeTasks(data []byte) ([]domain.Task, error) {
	var ws []wireTask
	if err := codec.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	tasks := make([]domain.Task, 0, len(ws))
	for _, w := range ws {
		t, err := w.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode tasks: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func DecodeLane(data []byte) (domain.Lane, error) {
	var w wireLane
	if err := codec.Unmarshal(data, &w); err != nil {
		return domain.Lane{}, fmt.Errorf("decode lane: %w", err)
	}
	return w.toDomain()
}

// DecodeLanes decodes a lane list, dropping soft-deleted lanes.
func DecodeLanes(data []byte) ([]domain.Lane, error) {
	var ws []wireLane
	if err := codec.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("decode lanes: %w", err)
	}
	lanes := make([]domain.Lane, 0, len(ws))
	for _, w := range ws {
		if w.IsDeleted {
			continue
		}
		l, err := w.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode lanes: %w", err)
		}
		lanes = append(lanes, l)
	}
	return lanes, nil
}

func DecodeComment(taskID domain.ID, data []byte) (domain.Comment, error) {
	var w wireComment
	if err := codec.Unmarshal(data, &w); err != nil {
		return domain.Comment{}, fmt.Errorf("decode comment: %w", err)
	}
	if w.ID == "" {
		return domain.Comment{}, errors.New("decode comment: missing id")
	}
	return w.toDomain(taskID, 0), nil
}

type wireSnapshot struct {
	Lanes []wireLane `json:"lanes"`
	Tasks []wireTask `json:"tasks"`
}

// DecodeSnapshot parses an initial-state payload: {"lanes": [...], "tasks": [...]}.
// Lanes carrying "tasksLoaded": false are reported as deferred.
func DecodeSnapshot(data []byte) (domain.Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Snapshot{}, errors.New("decode snapshot: empty payload")
	}
	var w wireSnapshot
	if err := codec.Unmarshal(data, &w); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snap := domain.Snapshot{
		Lanes: make([]domain.Lane, 0, len(w.Lanes)),
		Tasks: make([]domain.Task, 0, len(w.Tasks)),
	}
	for _, wl := range w.Lanes {
		l, err := wl.toDomain()
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		snap.Lanes = append(snap.Lanes, l)
		if wl.TasksLoaded != nil && !*wl.TasksLoaded && !l.Completed {
			snap.Deferred = append(snap.Deferred, l.ID)
		}
	}
	for _, wt := range w.Tasks {
		t, err := wt.toDomain()
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		snap.Tasks = append(snap.Tasks, t)
	}
	return snap, nil
}

// EncodeSnapshot renders snap in the format DecodeSnapshot reads.
func EncodeSnapshot(snap domain.Snapshot) ([]byte, error) {
	w := wireSnapshot{
		Lanes: make([]wireLane, 0, len(snap.Lanes)),
		Tasks: make([]wireTask, 0, len(snap.Tasks)),
	}
	deferred := make(map[domain.ID]bool, len(snap.Deferred))
	for _, id := range snap.Deferred {
		deferred[id] = true
	}
	for _, l := range snap.Lanes {
		wl := fromDomainLane(l)
		if !l.Completed {
			loaded := !deferred[l.ID]
			wl.TasksLoaded = &loaded
		}
		w.Lanes = append(w.Lanes, wl)
	}
	for _, t := range snap.Tasks {
		w.Tasks = append(w.Tasks, fromDomainTask(t))
	}
	return codec.Marshal(w)
}

// DecodeEvent turns a named push event into its tagged domain form.
func DecodeEvent(name string, data []byte) (domain.Event, error) {
	ev := domain.Event{Kind: domain.EventKind(name), ReceivedAt: time.Now()}
	switch ev.Kind {
	case domain.EventInit, domain.EventHeartbeat:
		return ev, nil
	case domain.EventTaskUpdated:
		t, err := DecodeTask(data)
		if err != nil {
			return domain.Event{}, err
		}
		ev.Task = &t
	case domain.EventTaskDeleted:
		var id wireID
		if err := codec.Unmarshal(data, &id); err != nil {
			return domain.Event{}, fmt.Errorf("decode task-deleted: %w", err)
		}
		if id == "" {
			return domain.Event{}, errors.New("decode task-deleted: missing id")
		}
		ev.TaskID = domain.ID(id)
	case domain.EventLaneUpdated:
		var w wireLane
		if err := codec.Unmarshal(data, &w); err != nil {
			return domain.Event{}, fmt.Errorf("decode lane: %w", err)
		}
		if w.IsDeleted {
			if w.ID == "" {
				return domain.Event{}, errors.New("decode lane-deleted: missing id")
			}
			ev.Kind = domain.EventLaneDeleted
			ev.LaneID = domain.ID(w.ID)
			return ev, nil
		}
		l, err := w.toDomain()
		if err != nil {
			return domain.Event{}, err
		}
		ev.Lane = &l
	default:
		return domain.Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	return ev, nil
}
