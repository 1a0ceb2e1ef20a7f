package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/remote"
)

// fakeServer serves lanes 1..3. Lane 1 has two tasks, lane 2 none, lane 3 one.
type fakeServer struct {
	mu        sync.Mutex
	laneHits  int
	taskHits  map[string]int
	failLane  string
	failLanes bool
}

func (f *fakeServer) hits(lane string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskHits[lane]
}

func (f *fakeServer) lanesHit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.laneHits
}

func (f *fakeServer) echo() *echo.Echo {
	e := echo.New()
	e.GET("/api/swimlanes/active", func(c echo.Context) error {
		f.mu.Lock()
		f.laneHits++
		fail := f.failLanes
		f.mu.Unlock()
		if fail {
			return c.String(http.StatusServiceUnavailable, "down")
		}
		return c.String(http.StatusOK, `[
			{"id": 1, "name": "Backend", "position": 0},
			{"id": 2, "name": "Empty", "position": 1},
			{"id": 3, "name": "Ops", "position": 2}
		]`)
	})
	e.GET("/api/tasks/swimlane/:id", func(c echo.Context) error {
		id := c.Param("id")
		f.mu.Lock()
		f.taskHits[id]++
		fail := f.failLane == id
		f.mu.Unlock()
		if fail {
			return c.String(http.StatusInternalServerError, "boom")
		}
		switch id {
		case "1":
			return c.String(http.StatusOK, `[
				{"id": 10, "name": "a", "status": "TODO", "swimLaneId": 1},
				{"id": 11, "name": "b", "status": "DONE", "swimLaneId": 1}
			]`)
		case "3":
			return c.String(http.StatusOK, `[{"id": 30, "name": "c", "status": "BLOCKED", "swimLaneId": 3}]`)
		}
		return c.String(http.StatusOK, `[]`)
	})
	return e
}

func setup(t *testing.T, device Device, f *fakeServer) (*Loader, *board.Store) {
	t.Helper()
	if f.taskHits == nil {
		f.taskHits = make(map[string]int)
	}
	srv := httptest.NewServer(f.echo())
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	store := board.New(remote.New(srv.URL, "token", remote.WithLogger(logger)), board.WithLogger(logger))
	l := New(store, device, WithLogger(logger))
	t.Cleanup(l.Close)
	return l, store
}

func lane(t *testing.T, s *board.Store, id domain.ID) domain.Lane {
	t.Helper()
	got, ok := s.Lane(id)
	require.True(t, ok, "lane %s missing", id)
	return got
}

func TestMobileStartLoadsEveryLane(t *testing.T) {
	f := &fakeServer{failLane: "3"}
	l, s := setup(t, Mobile, f)

	require.NoError(t, l.Start(context.Background(), nil))

	require.Equal(t, 1, f.hits("1"))
	require.Equal(t, 1, f.hits("2"))
	require.Equal(t, 1, f.hits("3"))
	require.Len(t, s.Tasks(), 2)

	l1, l2, l3 := lane(t, s, "1"), lane(t, s, "2"), lane(t, s, "3")
	require.False(t, l1.Collapsed)
	require.True(t, l1.TasksLoaded)
	require.True(t, l2.Collapsed, "empty lane collapses")
	require.True(t, l2.TasksLoaded)
	require.False(t, l3.TasksLoaded, "failed lane stays retryable")
	require.False(t, l3.Loading)
}

func TestDesktopStartDefersTaskLoads(t *testing.T) {
	f := &fakeServer{}
	l, s := setup(t, Desktop, f)

	require.NoError(t, l.Start(context.Background(), nil))
	require.Equal(t, 1, f.lanesHit())
	for _, ln := range s.Lanes() {
		require.True(t, ln.Collapsed)
		require.False(t, ln.Loading)
		require.False(t, ln.TasksLoaded)
		require.Zero(t, f.hits(ln.ID.String()))
	}

	require.NoError(t, l.Expand(context.Background(), "1"))
	require.NoError(t, l.Expand(context.Background(), "1"))
	require.Equal(t, 1, f.hits("1"), "expand loads once")
	require.Len(t, s.LaneTasks("1"), 2)

	// User-expanded lanes stay open even when empty.
	require.NoError(t, l.Select(context.Background(), "2"))
	require.False(t, lane(t, s, "2").Collapsed)
	require.Equal(t, domain.ID("2"), l.Selected())

	require.NoError(t, l.Collapse("1"))
	require.True(t, lane(t, s, "1").Collapsed)
	require.True(t, lane(t, s, "1").TasksLoaded)
}

func TestStartHydratesFromPayload(t *testing.T) {
	f := &fakeServer{}
	l, s := setup(t, Mobile, f)

	payload := []byte(`{
		"lanes": [{"id": 5, "name": "Cached", "position": 0}, {"id": 6, "name": "Quiet", "position": 1}],
		"tasks": [{"id": 50, "name": "x", "status": "TODO", "swimLaneId": 5}]
	}`)
	require.NoError(t, l.Start(context.Background(), payload))

	require.Zero(t, f.lanesHit())
	require.Zero(t, f.hits("5"))
	require.Len(t, s.Tasks(), 1)
	require.False(t, lane(t, s, "5").Collapsed)
	require.True(t, lane(t, s, "6").Collapsed)
}

func TestStartFallsBackOnMalformedPayload(t *testing.T) {
	f := &fakeServer{}
	l, s := setup(t, Mobile, f)

	require.NoError(t, l.Start(context.Background(), []byte(`{"lanes": [`)))
	require.Equal(t, 1, f.lanesHit())
	require.Len(t, s.Lanes(), 3)
}

func TestStartReturnsLaneLoadError(t *testing.T) {
	f := &fakeServer{failLanes: true}
	l, _ := setup(t, Desktop, f)

	err := l.Start(context.Background(), nil)
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestSingleVisibleLaneIsForceExpanded(t *testing.T) {
	f := &fakeServer{}
	l, s := setup(t, Desktop, f)
	require.NoError(t, l.Start(context.Background(), nil))

	require.NoError(t, l.SetVisible(context.Background(), []domain.ID{"1", "3"}))
	require.Zero(t, f.hits("1"))

	require.NoError(t, l.SetVisible(context.Background(), []domain.ID{"3"}))
	require.Equal(t, 1, f.hits("3"))
	require.False(t, lane(t, s, "3").Collapsed)
	require.Equal(t, []domain.ID{"3"}, l.Visible())

	// An empty lane stays open while it is the only one visible.
	require.NoError(t, l.SetVisible(context.Background(), []domain.ID{"2"}))
	require.False(t, lane(t, s, "2").Collapsed)
	require.True(t, lane(t, s, "2").TasksLoaded)

	// Already loaded: no second fetch.
	require.NoError(t, l.SetVisible(context.Background(), []domain.ID{"3"}))
	require.Equal(t, 1, f.hits("3"))
}

func TestLaneResyncReloadsPerDevice(t *testing.T) {
	f := &fakeServer{}
	l, s := setup(t, Desktop, f)
	require.NoError(t, l.Start(context.Background(), nil))
	require.NoError(t, l.Expand(context.Background(), "2"))

	_, err := s.LoadLanes(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ln, _ := s.Lane("2")
		return ln.TasksLoaded
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, f.hits("2"))
	require.False(t, lane(t, s, "2").Collapsed, "user expanded lane stays open")
	require.Zero(t, f.hits("1"), "collapsed lanes wait for expand")

	require.Eventually(t, func() bool {
		ln, _ := s.Lane("1")
		return !ln.Loading
	}, time.Second, 5*time.Millisecond)
}

func TestMobileResyncReloadsEveryLane(t *testing.T) {
	f := &fakeServer{}
	l, s := setup(t, Mobile, f)
	require.NoError(t, l.Start(context.Background(), nil))

	_, err := s.LoadLanes(context.Background())
	require.NoError(t, err)
	l.Close()

	require.Equal(t, 2, f.hits("1"))
	require.Equal(t, 2, f.hits("2"))
	require.Equal(t, 2, f.hits("3"))
	require.Len(t, s.Tasks(), 3)
}

func TestParseDevice(t *testing.T) {
	for in, want := range map[string]Device{"": Desktop, "desktop": Desktop, " Mobile ": Mobile} {
		got, err := ParseDevice(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseDevice("watch")
	require.Error(t, err)
}
