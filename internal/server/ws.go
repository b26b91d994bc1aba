package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/orchestrator"
)

const (
	// maxFrameBytes bounds one inbound WebSocket frame. Text frames are small;
	// the margin covers base64 audio chunks from future ASR clients.
	maxFrameBytes = 1 << 20

	// outboundBuffer is the per-connection outbound queue depth. Audio
	// messages are large, so the writer should rarely fall this far behind.
	outboundBuffer = 64

	// writeTimeout bounds one outbound frame write.
	writeTimeout = 10 * time.Second
)

// wsConn serializes writes to one WebSocket connection. coder/websocket
// allows only one concurrent writer, so all outbound messages funnel through
// the out channel into a single write loop.
type wsConn struct {
	c      *websocket.Conn
	out    chan chat.Message
	closed atomic.Bool
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		c:   c,
		out: make(chan chat.Message, outboundBuffer),
	}
}

// Emit queues one message for the write loop. It implements
// [channel.Emitter]; strategies and the orchestrator block here only when the
// outbound queue is full.
func (w *wsConn) Emit(ctx context.Context, m chat.Message) error {
	if w.closed.Load() {
		return net.ErrClosed
	}
	select {
	case w.out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop drains the outbound queue onto the wire. It exits on context
// cancellation or the first write failure; after that Emit fails fast.
func (w *wsConn) writeLoop(ctx context.Context, onSent func(m chat.Message)) {
	defer w.closed.Store(true)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-w.out:
			data, err := json.Marshal(m)
			if err != nil {
				slog.Error("ws: encode outbound message", "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = w.c.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
			if onSent != nil {
				onSent(m)
			}
		}
	}
}

// handleWS upgrades the connection and runs the receive loop until the client
// disconnects. Disconnect cancels any in-flight turn on the bound session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("ws: accept failed", "err", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newWSConn(c)
	go conn.writeLoop(ctx, func(m chat.Message) {
		if s.metrics != nil {
			s.metrics.RecordMessageOut(ctx, string(m.Type), string(m.ChannelType))
		}
	})

	s.readLoop(ctx, conn)
	c.Close(websocket.StatusNormalClosure, "bye")
}

// readLoop consumes inbound frames. Text frames dispatch turns; playback
// acknowledgements and pings are handled inline so they are never stuck
// behind an active turn.
func (s *Server) readLoop(ctx context.Context, conn *wsConn) {
	var bound *chat.Session
	defer func() {
		if bound != nil {
			bound.Cancel()
		}
	}()

	for {
		_, data, err := conn.c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			slog.Debug("ws: read ended", "err", err)
			return
		}

		in, err := chat.DecodeInbound(data)
		if err != nil {
			_ = conn.Emit(ctx, chat.NewError("", "invalid_request", err.Error()))
			continue
		}
		if in.SessionID != "" && !validName(in.SessionID) {
			_ = conn.Emit(ctx, chat.NewError(in.SessionID, "invalid_request", "invalid session id"))
			continue
		}

		switch in.Type {
		case chat.InboundPing:
			_ = conn.Emit(ctx, chat.NewSystem(in.SessionID, "pong", ""))

		case chat.InboundPlaybackCompleted:
			if sess := s.sessions.Get(in.SessionID); sess != nil {
				sess.Touch()
				sess.NotifyPlayback(in.SentenceID)
			}

		case chat.InboundASRAudioChunk:
			_ = conn.Emit(ctx, chat.NewError(in.SessionID, "invalid_request", "audio input is not enabled on this server"))

		case chat.InboundText:
			user := in.User
			if user == "" {
				user = DefaultUser
			} else if !validName(user) {
				_ = conn.Emit(ctx, chat.NewError(in.SessionID, "invalid_request", "invalid user"))
				continue
			}
			sess, _ := s.sessions.GetOrCreate(in.SessionID)
			bound = sess
			sess.LogEvent(*in)
			req := orchestrator.TurnRequest{
				Session:     sess,
				Preferences: s.preferences.For(user).Load(),
				Emitter:     conn,
			}
			s.turns.Add(1)
			go s.dispatch(ctx, req, in)
		}
	}
}

// dispatch runs one turn pipeline invocation with gauge and duration
// bookkeeping. Runs on its own goroutine so the read loop keeps consuming
// interrupt and playback frames.
func (s *Server) dispatch(ctx context.Context, req orchestrator.TurnRequest, in *chat.Inbound) {
	if s.metrics != nil {
		s.metrics.InFlightTurns.Add(ctx, 1)
		defer s.metrics.InFlightTurns.Add(ctx, -1)
	}
	start := time.Now()
	s.dispatcher.Dispatch(ctx, req, in)
	if s.metrics != nil {
		s.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
}
