package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/drag"
	"board-sync/internal/consts"
	"board-sync/notify"
)

const maxBodySize = 64 << 10

type Board interface {
	Snapshot() domain.Snapshot
	Column(laneID domain.ID, status domain.Status) []domain.Task
}

type LaneController interface {
	Expand(ctx context.Context, id domain.ID) error
	Collapse(id domain.ID) error
	SetVisible(ctx context.Context, ids []domain.ID) error
}

type DropHandler interface {
	HandleDrop(ctx context.Context, ev drag.DropEvent) (*board.Pending, error)
	HandleLaneDrop(ctx context.Context, ev drag.LaneDropEvent) *board.Pending
	SetFilterActive(active bool)
}

type Subscriber interface {
	Subscribe(topic notify.Topic, fn func(notify.Message)) func()
}

// Deps are the components behind the control surface. Deduper, Surface,
// Connection and Online may be nil. Online receives the host's network state.
type Deps struct {
	Board      Board
	Lanes      LaneController
	Drops      DropHandler
	Bus        Subscriber
	Deduper    Deduper
	Surface    *Surface
	Connection func() notify.ConnState
	Online     func(online bool)
	KeepAlive  time.Duration
	Logger     *log.Logger
}

// Register wires up the control surface routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = 30 * time.Second
	}
	e.GET("/healthz", healthz(d))
	e.GET("/api/board", getBoard(d.Board))
	e.GET("/api/lanes/:id/columns/:status", getColumn(d.Board))
	e.POST("/api/drops", postDrop(d))
	e.POST("/api/lanes/reorder", postLaneDrop(d.Drops))
	e.POST("/api/lanes/:id/expand", postExpand(d.Lanes))
	e.POST("/api/lanes/:id/collapse", postCollapse(d.Lanes))
	e.PUT("/api/filter", putFilter(d.Lanes, d.Drops))
	e.GET("/api/stream", streamEvents(d.Bus, d.KeepAlive, d.Logger))
	if d.Surface != nil {
		e.GET("/api/containers", getContainers(d.Surface))
	}
	if d.Online != nil {
		e.PUT("/api/connectivity", putConnectivity(d.Online))
	}
}

type healthResponse struct {
	Status     string           `json:"status"`
	Connection notify.ConnState `json:"connection,omitempty"`
}

func healthz(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{Status: "ok"}
		if d.Connection != nil {
			resp.Connection = d.Connection()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getBoard(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, b.Snapshot())
	}
}

func getColumn(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		status, err := domain.ParseStatus(c.Param("status"))
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, b.Column(domain.ID(c.Param("id")), status))
	}
}

// decodeBody reads a size-limited JSON body into v, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type dropResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// postDrop applies a finished task drag. With ?wait=true the response is
// delayed until the server confirmed or the move was rolled back.
func postDrop(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var ev drag.DropEvent
		if err := decodeBody(c, &ev); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if ev.TaskID == "" {
			return c.String(http.StatusBadRequest, "missing taskId")
		}
		ctx := c.Request().Context()

		key := c.Request().Header.Get(consts.IdempotencyHeader)
		if key != "" && d.Deduper != nil {
			added, err := d.Deduper.Add(ctx, key)
			if err != nil {
				d.Logger.WithError(err).Warn("drop dedupe unavailable")
			} else if !added {
				return c.JSON(http.StatusConflict, dropResponse{Status: "duplicate"})
			}
		}

		p, err := d.Drops.HandleDrop(ctx, ev)
		if err != nil {
			if key != "" && d.Deduper != nil {
				if rerr := d.Deduper.Remove(context.WithoutCancel(ctx), key); rerr != nil {
					d.Logger.WithError(rerr).WithField("key", key).Warn("drop key not released")
				}
			}
			switch {
			case errors.Is(err, drag.ErrCrossLaneDisabled):
				return c.JSON(http.StatusConflict, dropResponse{Status: "refused", Error: err.Error()})
			case errors.Is(err, domain.ErrInvalidStatus):
				return c.JSON(http.StatusBadRequest, dropResponse{Status: "invalid", Error: err.Error()})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, dropResponse{Status: "error", Error: err.Error()})
		}
		if p == nil {
			return c.JSON(http.StatusOK, dropResponse{Status: "unchanged"})
		}
		if c.QueryParam("wait") != "true" {
			return c.JSON(http.StatusAccepted, dropResponse{Status: "pending"})
		}
		return waitPending(c, p)
	}
}

type laneDropRequest struct {
	OldIndex int         `json:"oldIndex"`
	NewIndex int         `json:"newIndex"`
	Order    []domain.ID `json:"order"`
}

func postLaneDrop(drops DropHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req laneDropRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		p := drops.HandleLaneDrop(c.Request().Context(), drag.LaneDropEvent(req))
		if p == nil {
			return c.JSON(http.StatusOK, dropResponse{Status: "unchanged"})
		}
		if c.QueryParam("wait") != "true" {
			return c.JSON(http.StatusAccepted, dropResponse{Status: "pending"})
		}
		return waitPending(c, p)
	}
}

func waitPending(c echo.Context, p *board.Pending) error {
	if err := p.Wait(c.Request().Context()); err != nil {
		if errors.Is(err, board.ErrUnknownLane) {
			return c.JSON(http.StatusNotFound, dropResponse{Status: "invalid", Error: err.Error()})
		}
		return c.JSON(http.StatusBadGateway, dropResponse{Status: "rolled-back", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, dropResponse{Status: "confirmed"})
}

func postExpand(lanes LaneController) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := lanes.Expand(c.Request().Context(), domain.ID(c.Param("id")))
		return laneResult(c, err)
	}
}

func postCollapse(lanes LaneController) echo.HandlerFunc {
	return func(c echo.Context) error {
		return laneResult(c, lanes.Collapse(domain.ID(c.Param("id"))))
	}
}

func laneResult(c echo.Context, err error) error {
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, board.ErrUnknownLane):
		return c.String(http.StatusNotFound, err.Error())
	}
	c.Logger().Error(err)
	return c.String(http.StatusBadGateway, err.Error())
}

type filterRequest struct {
	Active       bool        `json:"active"`
	VisibleLanes []domain.ID `json:"visibleLanes"`
}

func putFilter(lanes LaneController, drops DropHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req filterRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		drops.SetFilterActive(req.Active)
		return laneResult(c, lanes.SetVisible(c.Request().Context(), req.VisibleLanes))
	}
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func putConnectivity(online func(bool)) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req connectivityRequest
		if err := decodeBody(c, &req); err != nil || req.Online == nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		online(*req.Online)
		return c.NoContent(http.StatusNoContent)
	}
}
