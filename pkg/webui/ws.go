package webui

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"genforge/pkg/proto"
	"genforge/pkg/runner"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 64 * 1024
)

// wsEmitter serializes writes to one websocket connection. Writes after the
// connection has failed are dropped.
type wsEmitter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	failed bool
	server *Server
}

func (e *wsEmitter) Emit(msg proto.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		return
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := e.conn.WriteJSON(msg); err != nil {
		e.failed = true
		e.server.logger.Warn("websocket write failed, dropping further messages: %v", err)
	}
}

func (e *wsEmitter) ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		return errors.New("connection failed")
	}
	return e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)) //nolint:wrapcheck // caller only checks for failure
}

// handleWebSocket implements /ws. Clients send {"type":"generate","prompt":...}
// to start a run and {"type":"stop"} to halt it; every run message is
// streamed back on the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	emitter := &wsEmitter{conn: conn, server: s}
	s.logger.Info("Client %s connected", r.RemoteAddr)
	emitter.Emit(proto.NewLog("Connected to server"))

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(emitter, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed: %v", err)
			}
			s.logger.Info("Client %s disconnected", r.RemoteAddr)
			return
		}

		msg, err := proto.ParseClientMessage(data)
		if err != nil {
			emitter.Emit(proto.NewError(err.Error()))
			continue
		}

		switch msg.Type {
		case proto.ClientGenerate:
			s.startRun(msg.Prompt, emitter)
		case proto.ClientStop:
			if !s.runner.Stop() {
				emitter.Emit(proto.NewLog("No active run to stop"))
			} else {
				emitter.Emit(proto.NewLog("Stop requested. The current step will finish first."))
			}
		}
	}
}

func (s *Server) startRun(prompt string, emitter *wsEmitter) {
	runID, _, err := s.runner.Start(s.baseCtx, prompt, emitter)
	switch {
	case errors.Is(err, runner.ErrRunInProgress):
		emitter.Emit(proto.NewError("A generation is already running"))
	case err != nil:
		emitter.Emit(proto.NewError(err.Error()))
	default:
		s.logger.Info("Run %s started", runID)
	}
}

func (s *Server) keepAlive(e *wsEmitter, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := e.ping(); err != nil {
				return
			}
		}
	}
}
