package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"board-sync/domain"
)

// TaskInput is the writable part of a task.
type TaskInput struct {
	Name   string
	Status domain.Status
	LaneID domain.ID
	Tags   []string
}

// taskBody is the create/update request. The server stores tags as a JSON
// encoded string, so they are sent that way.
type taskBody struct {
	Name     string   `json:"name"`
	Status   string   `json:"status,omitempty"`
	SwimLane *laneRef `json:"swimLane,omitempty"`
	Tags     string   `json:"tags"`
}

func newTaskBody(in TaskInput) (taskBody, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return taskBody{}, errors.New("task name is required")
	}
	tags, err := codec.Marshal(domain.NormalizeTags(in.Tags))
	if err != nil {
		return taskBody{}, err
	}
	b := taskBody{Name: name, Status: string(in.Status), Tags: string(tags)}
	if in.LaneID != "" {
		b.SwimLane = &laneRef{ID: wireID(in.LaneID)}
	}
	return b, nil
}

func (c *Client) AllTasks(ctx context.Context) ([]domain.Task, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, route: tasksPath, path: tasksPath})
	if err != nil {
		return nil, err
	}
	return DecodeTasks(body)
}

// LaneTasks returns the tasks of one lane.
func (c *Client) LaneTasks(ctx context.Context, laneID domain.ID) ([]domain.Task, error) {
	body, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  tasksPath + "/swimlane/{id}",
		path:   tasksPath + "/swimlane/" + url.PathEscape(laneID.String()),
	})
	if err != nil {
		return nil, err
	}
	return DecodeTasks(body)
}

func (c *Client) CreateTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	if !in.Status.Valid() {
		return domain.Task{}, domain.ErrInvalidStatus
	}
	tb, err := newTaskBody(in)
	if err != nil {
		return domain.Task{}, err
	}
	req, err := jsonRequest(http.MethodPost, tasksPath, tasksPath, tb)
	if err != nil {
		return domain.Task{}, err
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return domain.Task{}, err
	}
	return DecodeTask(body)
}

func (c *Client) UpdateTask(ctx context.Context, id domain.ID, in TaskInput) (domain.Task, error) {
	tb, err := newTaskBody(in)
	if err != nil {
		return domain.Task{}, err
	}
	req, err := jsonRequest(http.MethodPut, tasksPath+"/{id}", idPath(tasksPath, id), tb)
	if err != nil {
		return domain.Task{}, err
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return domain.Task{}, err
	}
	return DecodeTask(body)
}

// MoveTask changes a task's status and lane and, when position is set, its
// position within the target column.
func (c *Client) MoveTask(ctx context.Context, id domain.ID, status domain.Status, laneID domain.ID, position *int) error {
	q := url.Values{}
	q.Set("status", string(status))
	q.Set("swimLaneId", laneID.String())
	if position != nil {
		q.Set("position", strconv.Itoa(*position))
	}
	_, err := c.do(ctx, request{
		method: http.MethodPatch,
		route:  tasksPath + "/{id}/move",
		path:   idPath(tasksPath, id, "move"),
		query:  q,
	})
	return err
}

func (c *Client) DeleteTask(ctx context.Context, id domain.ID) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, route: tasksPath + "/{id}", path: idPath(tasksPath, id)})
	return err
}
