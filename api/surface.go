package api

import (
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"board-sync/drag"
)

// Surface is the drag surface of a remote UI. It tracks which containers
// currently accept drops so clients can fetch them from /api/containers; a
// binding generation changes whenever containers are rebuilt.
type Surface struct {
	mu          sync.Mutex
	live        map[drag.Container]int
	generation  int
	lanesActive bool
}

func NewSurface() *Surface {
	return &Surface{live: make(map[drag.Container]int)}
}

type surfaceBinding struct {
	s     *Surface
	c     drag.Container
	lanes bool
	once  sync.Once
}

func (b *surfaceBinding) Destroy() {
	b.once.Do(func() {
		b.s.mu.Lock()
		defer b.s.mu.Unlock()
		b.s.generation++
		if b.lanes {
			b.s.lanesActive = false
			return
		}
		if b.s.live[b.c]--; b.s.live[b.c] <= 0 {
			delete(b.s.live, b.c)
		}
	})
}

func (s *Surface) Bind(c drag.Container) (drag.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[c]++
	s.generation++
	return &surfaceBinding{s: s, c: c}, nil
}

func (s *Surface) BindLanes() (drag.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lanesActive = true
	s.generation++
	return &surfaceBinding{s: s, lanes: true}, nil
}

type containersResponse struct {
	Generation  int              `json:"generation"`
	LaneHeaders bool             `json:"laneHeaders"`
	Containers  []drag.Container `json:"containers"`
}

func (s *Surface) snapshot() containersResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := containersResponse{Generation: s.generation, LaneHeaders: s.lanesActive, Containers: make([]drag.Container, 0, len(s.live))}
	for c := range s.live {
		out.Containers = append(out.Containers, c)
	}
	slices.SortFunc(out.Containers, func(a, b drag.Container) int {
		if n := strings.Compare(string(a.LaneID), string(b.LaneID)); n != 0 {
			return n
		}
		return strings.Compare(string(a.Status), string(b.Status))
	})
	return out
}

func getContainers(s *Surface) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.snapshot())
	}
}
