package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/internal/consts"
	"board-sync/notify"
)

// streamEvents forwards every bus message to the client as a named SSE event.
// Messages are dropped for clients that fall behind.
func streamEvents(bus Subscriber, keepAlive time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ch := make(chan notify.Message, 32)
		unsubscribe := bus.Subscribe("", func(m notify.Message) {
			select {
			case ch <- m:
			default:
				logger.WithField("topic", m.Topic).Debug("stream client behind, message dropped")
			}
		})
		defer unsubscribe()

		ctx := c.Request().Context()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case m := <-ch:
				data, err := sonic.ConfigStd.Marshal(m)
				if err != nil {
					logger.WithError(err).Warn("encode stream message")
					continue
				}
				frame := make([]byte, 0, len(data)+64)
				frame = append(frame, consts.SSEEventPrefix...)
				frame = append(frame, m.Topic...)
				frame = append(frame, '\n')
				frame = append(frame, consts.SSEDataPrefix...)
				frame = append(frame, data...)
				frame = append(frame, '\n', '\n')
				if _, err := c.Response().Write(frame); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
