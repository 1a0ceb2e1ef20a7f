package remote

import (
	"context"
	"net/http"
	"net/url"

	"board-sync/domain"
)

const commentsRoute = tasksPath + "/{id}/comments"

// AddComment posts text as a plain-text body and returns the stored comment.
func (c *Client) AddComment(ctx context.Context, taskID domain.ID, text string) (domain.Comment, error) {
	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		route:       commentsRoute,
		path:        idPath(tasksPath, taskID, "comments"),
		body:        []byte(text),
		contentType: "text/plain",
	})
	if err != nil {
		return domain.Comment{}, err
	}
	return DecodeComment(taskID, body)
}

func (c *Client) UpdateComment(ctx context.Context, taskID, commentID domain.ID, text string) error {
	_, err := c.do(ctx, request{
		method:      http.MethodPut,
		route:       commentsRoute + "/{cid}",
		path:        idPath(tasksPath, taskID, "comments", commentPath(commentID)),
		body:        []byte(text),
		contentType: "text/plain",
	})
	return err
}

func (c *Client) DeleteComment(ctx context.Context, taskID, commentID domain.ID) error {
	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		route:  commentsRoute + "/{cid}",
		path:   idPath(tasksPath, taskID, "comments", commentPath(commentID)),
	})
	return err
}

func commentPath(id domain.ID) string {
	return url.PathEscape(id.String())
}
