package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"board-sync/domain"
	"board-sync/remote"
)

func runCLI(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	t.Setenv("BOARD_URL", srvURL)
	t.Setenv("BOARD_TOKEN", "secret")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLanesCommand(t *testing.T) {
	e := echo.New()
	e.GET("/api/swimlanes/active", func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "Bearer secret" {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.String(http.StatusOK, `[{"id": 2, "name": "Ops", "position": 1}, {"id": 1, "name": "Backend", "position": 0}]`)
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "lanes")
	if err != nil {
		t.Fatalf("lanes: %v", err)
	}
	if !strings.Contains(out, "Backend") || !strings.Contains(out, "Ops") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMoveCommand(t *testing.T) {
	var query string
	e := echo.New()
	e.PATCH("/api/tasks/:id/move", func(c echo.Context) error {
		query = c.Param("id") + "?" + c.QueryString()
		return c.NoContent(http.StatusOK)
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "move", "42", "done", "--lane", "3", "--position", "0")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if query != "42?position=0&status=DONE&swimLaneId=3" {
		t.Fatalf("unexpected request %q", query)
	}
	if !strings.Contains(out, "moved 42 to 3/DONE at 0") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMoveCommandValidatesArgs(t *testing.T) {
	if _, err := runCLI(t, "http://127.0.0.1:1", "move", "42", "LATER", "--lane", "3"); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if _, err := runCLI(t, "http://127.0.0.1:1", "move", "42", "DONE"); err == nil {
		t.Fatalf("expected missing lane error")
	}
}

func TestMissingBoardURLFails(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	t.Setenv("BOARD_URL", "")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"lanes"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		ev   domain.Event
		want string
	}{
		{domain.Event{Kind: domain.EventTaskUpdated, ReceivedAt: at, Task: &domain.Task{ID: "7", LaneID: "2", Status: domain.StatusDone, Name: "ship"}},
			`2026-03-01T12:00:00Z task-updated task=7 lane=2 status=DONE name="ship"`},
		{domain.Event{Kind: domain.EventTaskDeleted, ReceivedAt: at, TaskID: "7"},
			"2026-03-01T12:00:00Z task-deleted task=7"},
		{domain.Event{Kind: domain.EventLaneUpdated, ReceivedAt: at, Lane: &domain.Lane{ID: "2", Name: "Ops", Completed: true}},
			`2026-03-01T12:00:00Z lane-updated lane=2 completed=true name="Ops"`},
		{domain.Event{Kind: domain.EventHeartbeat, ReceivedAt: at}, "2026-03-01T12:00:00Z heartbeat"},
	}
	for _, tc := range cases {
		if got := formatEvent(tc.ev); got != tc.want {
			t.Fatalf("formatEvent(%s) = %q, want %q", tc.ev.Kind, got, tc.want)
		}
	}
}

func TestDialerReturnsUntypedNilOnError(t *testing.T) {
	e := echo.New()
	e.GET("/api/sse/stream", func(c echo.Context) error {
		return c.NoContent(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	s, err := dialer(remote.New(srv.URL, ""))(context.Background(), func(domain.Event) {})
	if err == nil {
		t.Fatalf("expected dial error")
	}
	if s != nil {
		t.Fatalf("expected nil stream, got %#v", s)
	}
}
