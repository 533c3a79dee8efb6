// Package ws streams session change events to dashboard clients over
// websocket.
//
// Each connected client subscribes to the session's event feed and receives
// one JSON message per change, typed by the slice of state that moved
// (history, forecast, alert, notification, connectivity) with the relevant
// payload attached. Clients that fall behind are disconnected rather than
// allowed to stall the session loop.
package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sigap-ai/sigapd/pkg/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// message is one websocket frame pushed to a client.
type message struct {
	Type session.EventKind `json:"type"`
	Data any               `json:"data"`
}

// Metrics tracks the connected client count. A nil Metrics is allowed.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
}

// Handler returns the websocket endpoint handler for the session.
func Handler(sess *session.Session, m Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		if m != nil {
			m.ClientConnected()
			defer m.ClientDisconnected()
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Read pump: detect client disconnect
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		events, unsubscribe := sess.Subscribe()
		defer unsubscribe()

		// Initial full state so the client renders before the first change.
		if err := conn.WriteJSON(message{Type: "snapshot", Data: sess.Export()}); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.WriteJSON(payload(sess, ev)); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

// payload maps an event to the frame carrying the changed state.
func payload(sess *session.Session, ev session.Event) message {
	switch ev.Kind {
	case session.EventHistory:
		return message{Type: ev.Kind, Data: sess.History()}
	case session.EventForecast:
		return message{Type: ev.Kind, Data: sess.Forecast()}
	case session.EventAlert:
		return message{Type: ev.Kind, Data: sess.Alert()}
	case session.EventNotification:
		if n, ok := sess.Notification(); ok {
			return message{Type: ev.Kind, Data: n}
		}
		return message{Type: ev.Kind, Data: nil}
	case session.EventConnectivity:
		return message{Type: ev.Kind, Data: sess.Connectivity()}
	default:
		return message{Type: ev.Kind, Data: nil}
	}
}
