package connection

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

// Watch streams tree changes to fn until ctx is done, fn returns an error
// or the server closes the stream. A normal close or ctx cancellation
// returns nil.
func (c *HTTPClient) Watch(ctx context.Context, fn func(handler.WatchMessage) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/cseg/watch"
	header := http.Header{"User-Agent": []string{c.userAgent}}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return ParseResponse(resp, nil)
		}
		return domain.ErrNetwork.WithDetails("watch %s", wsURL).WithCause(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		var msg handler.WatchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseTryAgainLater {
				return domain.ErrNetwork.WithDetails("watch dropped: %s", ce.Text)
			}
			return domain.ErrNetwork.WithDetails("watch").WithCause(err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
