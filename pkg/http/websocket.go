package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/metrics"
	"estate-voice-server/pkg/pipeline"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ControlMessage is a text frame sent by the client
type ControlMessage struct {
	Type string `json:"type"`
}

// conversationSocket is one client streaming audio for one session. The
// read loop processes chunks in arrival order; writePump is the only writer.
type conversationSocket struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	tenantID  string
	agentID   string
	limiter   *rate.Limiter
	logger    *logrus.Entry

	send       chan []byte
	writerDone chan struct{}
}

func (s *Server) chunkLimiter() *rate.Limiter {
	if s.config.ChunksPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.config.ChunkBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.config.ChunksPerSecond), burst)
}

// handleConversationSocket streams a conversation: binary frames carry
// audio, text frames carry control messages, every event goes back as one
// JSON text frame
func (s *Server) handleConversationSocket(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", id).Warn("WebSocket upgrade failed")
		return
	}

	s.sockets.Add(1)
	defer s.sockets.Done()
	defer metrics.TrackWebSocket()()

	tenantID, agentID := identity(r)
	sock := &conversationSocket{
		server:     s,
		conn:       conn,
		sessionID:  id,
		tenantID:   tenantID,
		agentID:    agentID,
		limiter:    s.chunkLimiter(),
		logger:     s.logger.WithField("session_id", id),
		send:       make(chan []byte, sendBuffer),
		writerDone: make(chan struct{}),
	}
	sock.logger.WithField("remote_addr", r.RemoteAddr).Info("Conversation socket opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go sock.closeOnShutdown(ctx, cancel)
	go sock.writePump()

	connected, err := s.deps.Conversations.Connect(ctx, id, tenantID, agentID)
	if err != nil {
		sock.logger.WithError(err).Warn("Refusing conversation socket")
		sock.refuse(err)
		<-sock.writerDone
		return
	}
	sock.emit(ctx, connected)
	ended := sock.readLoop(ctx)

	if !ended {
		endCtx, endCancel := context.WithTimeout(context.Background(), writeWait)
		if err := s.deps.Conversations.EndSession(endCtx, id, tenantID); err != nil && !errors.Is(err, errors.ErrSessionNotFound) {
			sock.logger.WithError(err).Warn("Failed to end session after disconnect")
		}
		endCancel()
	}

	close(sock.send)
	<-sock.writerDone
	sock.logger.WithField("ended_by_client", ended).Info("Conversation socket closed")
}

// readLoop returns true when the client ended the session
func (c *conversationSocket) readLoop(ctx context.Context) bool {
	c.conn.SetReadLimit(c.server.config.MaxAudioBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("Conversation socket read failed")
			}
			return false
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.BinaryMessage:
			if !c.limiter.Allow() {
				metrics.RecordRateLimitedChunk()
				c.logger.WithField("bytes", len(data)).Warn("Dropping audio chunk over rate limit")
				continue
			}
			err := c.server.deps.Conversations.ProcessChunk(ctx, pipeline.Chunk{
				SessionID: c.sessionID,
				TenantID:  c.tenantID,
				AgentID:   c.agentID,
				Audio:     data,
			}, func(event pipeline.Event) { c.emit(ctx, event) })
			if err != nil {
				c.logger.WithError(err).Warn("Conversation socket lost its session")
				return false
			}

		case websocket.TextMessage:
			var control ControlMessage
			if err := json.Unmarshal(data, &control); err != nil {
				c.logger.WithError(err).Debug("Ignoring malformed control message")
				continue
			}
			switch control.Type {
			case "end":
				if err := c.server.deps.Conversations.EndSession(ctx, c.sessionID, c.tenantID); err != nil && !errors.Is(err, errors.ErrSessionNotFound) {
					c.logger.WithError(err).Warn("Failed to end session")
				}
				return true
			default:
				c.logger.WithField("type", control.Type).Debug("Ignoring unknown control message")
			}
		}
	}
}

// emit queues one event for the writer
func (c *conversationSocket) emit(ctx context.Context, event pipeline.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.WithError(err).WithField("type", event.EventType()).Error("Failed to encode event")
		return
	}

	select {
	case c.send <- data:
	case <-c.writerDone:
	case <-ctx.Done():
	}
}

func (c *conversationSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WithError(err).Debug("Conversation socket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// refuse closes a socket whose session cannot be joined. The writer exits
// once the close frame is sent.
func (c *conversationSocket) refuse(err error) {
	reason := "session not available"
	if errors.Is(err, errors.ErrSessionNotFound) {
		reason = "session not found"
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
	close(c.send)
}

// closeOnShutdown unblocks the read loop when the server stops
func (c *conversationSocket) closeOnShutdown(ctx context.Context, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
	case <-c.server.baseCtx.Done():
		cancel()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
}
