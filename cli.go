package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"board-sync/api"
	"board-sync/board"
	"board-sync/config"
	"board-sync/domain"
	"board-sync/drag"
	"board-sync/loader"
	"board-sync/notify"
	"board-sync/remote"
	"board-sync/storage"
	"board-sync/subscription"
)

type app struct {
	cfg    config.Config
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:          "board-sync",
		Short:        "Kanban board sync engine with a local control surface",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run the engine and serve the control surface
  BOARD_URL=http://localhost:8080 board-sync run

  # List active lanes
  board-sync lanes

  # Move task 42 to DONE in lane 3 at the top
  board-sync move 42 DONE --lane 3 --position 0

  # Print push events as they arrive
  board-sync watch
`),
	}
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.logger = log.New()
		a.logger.SetOutput(cmd.ErrOrStderr())
		if cfg.Debug {
			a.logger.SetLevel(log.DebugLevel)
		}
		return nil
	}
	cmd.AddCommand(newRunCmd(a), newLanesCmd(a), newMoveCmd(a), newWatchCmd(a))
	return cmd
}

func (a *app) client() *remote.Client {
	return remote.New(a.cfg.BoardURL, a.cfg.BoardToken, remote.WithLogger(a.logger))
}

// dialer adapts the push stream of c to the monitor, never returning a typed nil.
func dialer(c *remote.Client) subscription.Dialer {
	return func(ctx context.Context, handle func(domain.Event)) (subscription.Stream, error) {
		s, err := c.Subscribe(ctx, handle)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync the board and serve the control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
}

func (a *app) run(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	bus := notify.NewBus(64, logger)
	defer bus.Close()
	client := a.client()
	store := board.New(client, board.WithPublisher(bus), board.WithLogger(logger))

	rc := storage.NewRedisClient(cfg.RedisConnection)
	if rc != nil {
		defer rc.Close()
	}
	cache := storage.NewSnapshotCache(rc, cfg.SnapshotTTL, logger)

	payload, err := a.initialState(ctx, cache)
	if err != nil {
		return err
	}
	ld := loader.New(store, cfg.Device, loader.WithLogger(logger), loader.WithConcurrency(cfg.LoadConcurrency))
	if err := ld.Start(ctx, payload); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	defer ld.Close()
	if _, err := store.LoadCompletedLanes(ctx); err != nil {
		logger.WithError(err).Warn("completed lanes unavailable")
	}

	surface := api.NewSurface()
	adapter := drag.New(store, surface, drag.WithLogger(logger))
	adapter.Start()
	defer adapter.Close()

	monitor := subscription.New(cfg.Stream, dialer(client), store.ApplyEvent, subscription.WithPublisher(bus), subscription.WithLogger(logger))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "X-Idempotency-Key"},
	}))
	deps := api.Deps{
		Board:      store,
		Lanes:      ld,
		Drops:      adapter,
		Bus:        bus,
		Surface:    surface,
		Connection: monitor.State,
		Online:     monitor.SetOnline,
		Logger:     logger,
	}
	if rc != nil {
		deps.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}
	api.Register(e, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error {
		logger.WithField("addr", cfg.ListenAddr).Info("control surface listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Wait(drainCtx); err != nil {
		logger.WithError(err).Warn("pending confirmations not drained")
	}
	if err := cache.Save(drainCtx, cfg.BoardKey, store.Snapshot()); err != nil {
		logger.WithError(err).Warn("snapshot not cached")
	}
	return runErr
}

// initialState prefers INITIAL_STATE_FILE and falls back to the snapshot cache.
func (a *app) initialState(ctx context.Context, cache *storage.SnapshotCache) ([]byte, error) {
	if a.cfg.InitialStateFile != "" {
		data, err := os.ReadFile(a.cfg.InitialStateFile)
		if err != nil {
			return nil, fmt.Errorf("read initial state: %w", err)
		}
		return data, nil
	}
	if data, ok := cache.Load(ctx, a.cfg.BoardKey); ok {
		a.logger.WithField("board", a.cfg.BoardKey).Info("using cached snapshot")
		return data, nil
	}
	return nil, nil
}

func newLanesCmd(a *app) *cobra.Command {
	var completed bool
	cmd := &cobra.Command{
		Use:   "lanes",
		Short: "List lanes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			var (
				lanes []domain.Lane
				err   error
			)
			if completed {
				lanes, err = c.CompletedLanes(cmd.Context())
			} else {
				lanes, err = c.ActiveLanes(cmd.Context())
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPOSITION\tNAME")
			for _, l := range lanes {
				fmt.Fprintf(w, "%s\t%d\t%s\n", l.ID, l.Position, l.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "list completed lanes")
	return cmd
}

func newMoveCmd(a *app) *cobra.Command {
	var (
		lane     string
		position int
	)
	cmd := &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			if lane == "" {
				return errors.New("--lane is required")
			}
			var pos *int
			if cmd.Flags().Changed("position") {
				if position < 0 {
					return errors.New("--position must not be negative")
				}
				pos = &position
			}
			if err := a.client().MoveTask(cmd.Context(), domain.ID(args[0]), status, domain.ID(lane), pos); err != nil {
				return err
			}
			p := "end"
			if pos != nil {
				p = strconv.Itoa(*pos)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s to %s/%s at %s\n", args[0], lane, status, p)
			return nil
		},
	}
	cmd.Flags().StringVar(&lane, "lane", "", "target lane id")
	cmd.Flags().IntVar(&position, "position", 0, "position within the target column")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var heartbeats bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print board push events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			client := a.client()
			out := cmd.OutOrStdout()
			var mu sync.Mutex
			printEvent := func(ev domain.Event) {
				if ev.Kind == domain.EventHeartbeat && !heartbeats {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(out, formatEvent(ev))
			}
			mon := subscription.New(a.cfg.Stream, dialer(client), printEvent, subscription.WithLogger(a.logger))
			return mon.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&heartbeats, "heartbeats", false, "also print heartbeat events")
	return cmd
}

func formatEvent(ev domain.Event) string {
	ts := ev.ReceivedAt.Format(time.RFC3339)
	switch {
	case ev.Task != nil:
		return fmt.Sprintf("%s %s task=%s lane=%s status=%s name=%q", ts, ev.Kind, ev.Task.ID, ev.Task.LaneID, ev.Task.Status, ev.Task.Name)
	case ev.Lane != nil:
		return fmt.Sprintf("%s %s lane=%s completed=%t name=%q", ts, ev.Kind, ev.Lane.ID, ev.Lane.Completed, ev.Lane.Name)
	case ev.TaskID != "":
		return fmt.Sprintf("%s %s task=%s", ts, ev.Kind, ev.TaskID)
	case ev.LaneID != "":
		return fmt.Sprintf("%s %s lane=%s", ts, ev.Kind, ev.LaneID)
	}
	return fmt.Sprintf("%s %s", ts, ev.Kind)
}
