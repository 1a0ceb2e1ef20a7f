package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"board-sync/domain"
	"board-sync/internal/consts"
)

func newTestClient(t *testing.T, e *echo.Echo, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New(srv.URL+"/", "secret", opts...)
}

func TestActiveLanesDecodesWirePayload(t *testing.T) {
	e := echo.New()
	e.GET("/api/swimlanes/active", func(c echo.Context) error {
		return c.String(http.StatusOK, `[
			{"id": 7, "name": "Backend", "position": 1, "isCompleted": false},
			{"id": "8", "name": "Gone", "isDeleted": true},
			{"id": 9, "name": "Frontend", "position": 0, "completed": true}
		]`)
	})
	c := newTestClient(t, e)

	lanes, err := c.ActiveLanes(context.Background())
	if err != nil {
		t.Fatalf("active lanes: %v", err)
	}
	if len(lanes) != 2 {
		t.Fatalf("expected deleted lane to be dropped, got %#v", lanes)
	}
	if lanes[0].ID != "7" || lanes[0].Name != "Backend" || lanes[0].Position != 1 {
		t.Fatalf("unexpected first lane: %#v", lanes[0])
	}
	if !lanes[1].Completed {
		t.Fatalf("expected completed flag from legacy field: %#v", lanes[1])
	}
}

func TestLaneTasksDecodesLaneReferenceAndTags(t *testing.T) {
	e := echo.New()
	var gotPath string
	e.GET("/api/tasks/swimlane/:id", func(c echo.Context) error {
		gotPath = c.Param("id")
		return c.String(http.StatusOK, `[
			{"id": 1, "name": "a", "status": "todo", "swimLane": {"id": 3}, "position": 0, "tags": "[\"x\",\" y \",\"x\"]"},
			{"id": 2, "name": "b", "status": "DONE", "swimLaneId": 3, "tags": ["z"],
			 "comments": ["legacy note", {"id": 11, "text": "hi", "createdAt": "2024-03-01T10:15:00"}]}
		]`)
	})
	c := newTestClient(t, e)

	tasks, err := c.LaneTasks(context.Background(), "3")
	if err != nil {
		t.Fatalf("lane tasks: %v", err)
	}
	if gotPath != "3" {
		t.Fatalf("unexpected lane path param %q", gotPath)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	first := tasks[0]
	if first.LaneID != "3" || first.Status != domain.StatusTodo {
		t.Fatalf("unexpected first task: %#v", first)
	}
	if first.Position == nil || *first.Position != 0 {
		t.Fatalf("expected position 0 to survive decoding, got %v", first.Position)
	}
	if len(first.Tags) != 2 || first.Tags[0] != "x" || first.Tags[1] != "y" {
		t.Fatalf("unexpected tags: %#v", first.Tags)
	}
	second := tasks[1]
	if second.Position != nil {
		t.Fatalf("expected absent position, got %v", *second.Position)
	}
	if len(second.Comments) != 2 {
		t.Fatalf("unexpected comments: %#v", second.Comments)
	}
	if second.Comments[0].ID != domain.LegacyCommentID("2", 0) || second.Comments[0].Text != "legacy note" {
		t.Fatalf("unexpected legacy comment: %#v", second.Comments[0])
	}
	if second.Comments[1].ID != "11" || second.Comments[1].CreatedAt == nil || second.Comments[1].CreatedAt.Hour() != 10 {
		t.Fatalf("unexpected comment: %#v", second.Comments[1])
	}
}

func TestLaneTasksRejectsInvalidPayload(t *testing.T) {
	e := echo.New()
	e.GET("/api/tasks/swimlane/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, `[{"id": 1, "name": "a", "status": "WAITING", "swimLaneId": 3}]`)
	})
	c := newTestClient(t, e)

	_, err := c.LaneTasks(context.Background(), "3")
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestMoveTaskSendsQueryAndHeaders(t *testing.T) {
	e := echo.New()
	var (
		query  map[string]string
		auth   string
		key    string
		method string
	)
	e.PATCH("/api/tasks/:id/move", func(c echo.Context) error {
		method = c.Request().Method
		auth = c.Request().Header.Get(echo.HeaderAuthorization)
		key = c.Request().Header.Get(consts.IdempotencyHeader)
		query = map[string]string{
			"id":         c.Param("id"),
			"status":     c.QueryParam("status"),
			"swimLaneId": c.QueryParam("swimLaneId"),
			"position":   c.QueryParam("position"),
		}
		return c.String(http.StatusOK, `{"ignored": true}`)
	})
	c := newTestClient(t, e)
	c.newKey = func() string { return "key-1" }

	if err := c.MoveTask(context.Background(), "42", domain.StatusInProgress, "5", domain.Pos(0)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if method != http.MethodPatch {
		t.Fatalf("unexpected method %s", method)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if key != "key-1" {
		t.Fatalf("expected idempotency key, got %q", key)
	}
	want := map[string]string{"id": "42", "status": "IN_PROGRESS", "swimLaneId": "5", "position": "0"}
	for k, v := range want {
		if query[k] != v {
			t.Fatalf("expected %s=%q, got %q", k, v, query[k])
		}
	}
}

func TestReorderLanesSendsNumericIDs(t *testing.T) {
	e := echo.New()
	var body string
	e.PATCH("/api/swimlanes/reorder", func(c echo.Context) error {
		b, _ := io.ReadAll(c.Request().Body)
		body = string(b)
		return c.NoContent(http.StatusOK)
	})
	c := newTestClient(t, e)

	if err := c.ReorderLanes(context.Background(), []domain.ID{"3", "1", "lane-x"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if body != `[3,1,"lane-x"]` {
		t.Fatalf("unexpected reorder body %s", body)
	}
}

func TestCreateTaskSendsTagsAsEncodedString(t *testing.T) {
	e := echo.New()
	var body string
	e.POST("/api/tasks", func(c echo.Context) error {
		b, _ := io.ReadAll(c.Request().Body)
		body = string(b)
		return c.String(http.StatusCreated, `{"id": 99, "name": "new", "status": "TODO", "swimLane": {"id": 4}, "tags": "[\"a\"]"}`)
	})
	c := newTestClient(t, e)

	task, err := c.CreateTask(context.Background(), TaskInput{Name: " new ", Status: domain.StatusTodo, LaneID: "4", Tags: []string{"a", "a"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "99" || task.LaneID != "4" {
		t.Fatalf("unexpected task: %#v", task)
	}
	want := `{"name":"new","status":"TODO","swimLane":{"id":4},"tags":"[\"a\"]"}`
	if body != want {
		t.Fatalf("unexpected body\n got %s\nwant %s", body, want)
	}
}

func TestAddCommentSendsPlainText(t *testing.T) {
	e := echo.New()
	var (
		body        string
		contentType string
	)
	e.POST("/api/tasks/:id/comments", func(c echo.Context) error {
		b, _ := io.ReadAll(c.Request().Body)
		body = string(b)
		contentType = c.Request().Header.Get(echo.HeaderContentType)
		return c.String(http.StatusOK, `{"id": 5, "text": "hello"}`)
	})
	c := newTestClient(t, e)

	comment, err := c.AddComment(context.Background(), "1", "hello")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if body != "hello" || contentType != "text/plain" {
		t.Fatalf("unexpected request body=%q content-type=%q", body, contentType)
	}
	if comment.ID != "5" || comment.Text != "hello" {
		t.Fatalf("unexpected comment: %#v", comment)
	}
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	e := echo.New()
	e.DELETE("/api/tasks/:id", func(c echo.Context) error {
		return c.String(http.StatusNotFound, "no such task")
	})
	e.PATCH("/api/swimlanes/:id/complete", func(c echo.Context) error {
		return c.NoContent(http.StatusInternalServerError)
	})
	c := newTestClient(t, e)

	err := c.DeleteTask(context.Background(), "1")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Body != "no such task" || se.Route != "/api/tasks/{id}" {
		t.Fatalf("unexpected status error: %#v", se)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound")
	}

	_, err = c.CompleteLane(context.Background(), "2")
	if IsNotFound(err) || !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 status error, got %v", err)
	}
}

func TestRequestsAreTracedAndLogged(t *testing.T) {
	e := echo.New()
	e.GET("/api/tasks", func(c echo.Context) error {
		return c.String(http.StatusOK, `[]`)
	})
	e.DELETE("/api/swimlanes/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusConflict)
	})

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "", WithLogger(logger), WithTracerProvider(tp))

	if _, err := c.AllTasks(context.Background()); err != nil {
		t.Fatalf("all tasks: %v", err)
	}
	if err := c.DeleteLane(context.Background(), "3"); err == nil {
		t.Fatalf("expected delete to fail")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "GET /api/tasks" || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("expected error status on failed call")
	}
	var sawStatus bool
	for _, kv := range spans[1].Attributes() {
		if kv.Key == attribute.Key("http.status_code") && kv.Value.AsInt64() == http.StatusConflict {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Fatalf("expected status code attribute, got %v", spans[1].Attributes())
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != log.DebugLevel || entries[0].Message != requestLogName {
		t.Fatalf("unexpected success entry: %v %s", entries[0].Level, entries[0].Message)
	}
	if entries[1].Level != log.WarnLevel || entries[1].Data["status"] != http.StatusConflict {
		t.Fatalf("unexpected failure entry: %v %v", entries[1].Level, entries[1].Data)
	}
}
