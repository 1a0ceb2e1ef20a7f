package remote

import (
	"context"
	"net/http"

	"board-sync/domain"
)

// ActiveLanes returns lanes that are neither completed nor deleted.
func (c *Client) ActiveLanes(ctx context.Context) ([]domain.Lane, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, route: lanesPath + "/active", path: lanesPath + "/active"})
	if err != nil {
		return nil, err
	}
	return DecodeLanes(body)
}

func (c *Client) CompletedLanes(ctx context.Context) ([]domain.Lane, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, route: lanesPath + "/completed", path: lanesPath + "/completed"})
	if err != nil {
		return nil, err
	}
	return DecodeLanes(body)
}

// AllLanes returns every lane that is not deleted, completed or not.
func (c *Client) AllLanes(ctx context.Context) ([]domain.Lane, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, route: lanesPath, path: lanesPath})
	if err != nil {
		return nil, err
	}
	return DecodeLanes(body)
}

func (c *Client) CreateLane(ctx context.Context, name string) (domain.Lane, error) {
	req, err := jsonRequest(http.MethodPost, lanesPath, lanesPath, map[string]string{"name": name})
	if err != nil {
		return domain.Lane{}, err
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return domain.Lane{}, err
	}
	return DecodeLane(body)
}

// ReorderLanes sends the full lane order; the server assigns positions by index.
func (c *Client) ReorderLanes(ctx context.Context, ids []domain.ID) error {
	wire := make([]wireID, len(ids))
	for i, id := range ids {
		wire[i] = wireID(id)
	}
	req, err := jsonRequest(http.MethodPatch, lanesPath+"/reorder", lanesPath+"/reorder", wire)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, req)
	return err
}

func (c *Client) CompleteLane(ctx context.Context, id domain.ID) (domain.Lane, error) {
	return c.laneAction(ctx, id, "complete")
}

func (c *Client) UncompleteLane(ctx context.Context, id domain.ID) (domain.Lane, error) {
	return c.laneAction(ctx, id, "uncomplete")
}

func (c *Client) laneAction(ctx context.Context, id domain.ID, action string) (domain.Lane, error) {
	body, err := c.do(ctx, request{
		method: http.MethodPatch,
		route:  lanesPath + "/{id}/" + action,
		path:   idPath(lanesPath, id, action),
	})
	if err != nil {
		return domain.Lane{}, err
	}
	return DecodeLane(body)
}

func (c *Client) DeleteLane(ctx context.Context, id domain.ID) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, route: lanesPath + "/{id}", path: idPath(lanesPath, id)})
	return err
}
