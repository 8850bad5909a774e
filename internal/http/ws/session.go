package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/italolelis/mirrord/internal/engine"
	"github.com/italolelis/mirrord/internal/logctx"
	"github.com/italolelis/mirrord/internal/telemetry"
	"github.com/italolelis/mirrord/internal/transfer"
)

const (
	// writeWait bounds a single frame write to a slow client.
	writeWait = 10 * time.Second

	// pongWait is how long a silent client stays connected; pings go out
	// at a fraction of it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; start requests are tiny.
	maxMessageSize = 4096

	// outboundBuffer absorbs progress bursts from parallel transfers.
	outboundBuffer = 64
)

// Session is one connected event channel. It implements engine.EventSink:
// transfer events are queued to the outbound channel and flushed by the
// write pump, which is the only goroutine writing to the connection.
type Session struct {
	conn      *websocket.Conn
	engine    *engine.Engine
	telemetry *telemetry.Telemetry

	outbound  chan any
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, eng *engine.Engine, tel *telemetry.Telemetry) *Session {
	return &Session{
		conn:      conn,
		engine:    eng,
		telemetry: tel,
		outbound:  make(chan any, outboundBuffer),
		closed:    make(chan struct{}),
	}
}

// Send queues an event for delivery. It never blocks a transfer goroutine:
// once the session is gone or its buffer is full the event is dropped, and
// the registry snapshot remains the source of truth.
func (s *Session) Send(event any) {
	select {
	case <-s.closed:
		return
	default:
	}

	select {
	case s.outbound <- event:
	case <-s.closed:
	default:
		s.telemetry.RecordSystemError("ws", "event_dropped")
	}
}

// run pumps the session until the client disconnects, then aborts any
// transfers it started.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.telemetry.IncrementActiveSessions()
	defer s.telemetry.DecrementActiveSessions()

	go s.writePump(ctx)
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer s.close()

	logger := logctx.LoggerFromContext(ctx)

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("session read failed", "err", err)
			}

			return
		}

		var req transfer.StartRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("malformed session message, closing session", "err", err)

			return
		}

		switch req.Type {
		case transfer.TypeStartDownload:
			s.telemetry.RecordSessionMessage(req.Type)

			id := s.engine.Start(ctx, req.URL, s)
			logger.Info("download requested", "download_id", id, "url", req.URL)
		default:
			logger.Warn("ignoring unknown message type", "type", req.Type)
		}
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))

			return
		case <-s.closed:
			return
		case event := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := s.conn.WriteJSON(event); err != nil {
				s.close()

				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()

				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
