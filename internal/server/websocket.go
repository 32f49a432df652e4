package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/page"
	"github.com/gosight/gosight/friction/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Inbound message types
const (
	MessageEvents = "events"
	MessageLayout = "layout"
)

// Outbound frame types
const (
	FrameHint  = "hint"
	FrameScore = "score"
	FrameError = "error"
)

// ClientMessage is sent by the browser
type ClientMessage struct {
	Type   string                   `json:"type"`
	SentAt int64                    `json:"sent_at,omitempty"`
	Events []map[string]interface{} `json:"events,omitempty"`
	Layout *page.Layout             `json:"layout,omitempty"`
}

// HintFrame carries one hint command to the browser
type HintFrame struct {
	Type string `json:"type"`
	page.HintCommand
}

// ScoreFrame carries the periodic stress reading
type ScoreFrame struct {
	Type string `json:"type"`
	StressResponse
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HandleWebSocket upgrades to a live channel for one session. A session takes
// a single socket and is torn down when that socket closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, status, msg := s.openSession(r, q.Get("project_key"), q.Get("session_id"))
	if sess == nil {
		writeError(w, status, msg)
		return
	}
	// One live socket per session
	if !sess.Attach() {
		writeError(w, http.StatusConflict, "session already has a live connection")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("WebSocket upgrade failed")
		s.sessions.Close(sess.ID)
		return
	}

	log.Info().Str("session_id", sess.ID).Msg("WebSocket connected")

	errs := make(chan string, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, sess, errs)
	}()

	s.readLoop(conn, sess, errs)

	if err := s.sessions.Close(sess.ID); err == nil {
		log.Info().Str("session_id", sess.ID).Msg("WebSocket closed, session torn down")
	}
	conn.Close()
	<-writerDone
}

func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session, errs chan<- string) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var m ClientMessage
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session_id", sess.ID).Msg("WebSocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch m.Type {
		case MessageEvents:
			res := s.dispatcher.DispatchBatch(sess, m.Events, m.SentAt, "ws")
			for _, e := range res.Errors {
				report(errs, e)
			}
		case MessageLayout:
			if m.Layout == nil {
				report(errs, "layout message without layout")
				continue
			}
			sess.ApplyLayout(*m.Layout)
		default:
			report(errs, "unsupported message type: "+m.Type)
		}
	}
}

func report(errs chan<- string, msg string) {
	select {
	case errs <- msg:
	default:
	}
}

// writeLoop is the only writer on conn. Closing conn on exit unblocks the
// reader.
func (s *Server) writeLoop(conn *websocket.Conn, sess *session.Session, errs <-chan string) {
	defer conn.Close()

	scores := time.NewTicker(s.cfg.ScorePushInterval)
	defer scores.Stop()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	write := func(v interface{}) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			log.Debug().Err(err).Str("session_id", sess.ID).Msg("WebSocket write failed")
			return false
		}
		return true
	}

	hints := sess.Hints()
	for {
		select {
		case cmd, ok := <-hints:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if !write(HintFrame{Type: FrameHint, HintCommand: cmd}) {
				return
			}
		case <-scores.C:
			if !write(ScoreFrame{Type: FrameScore, StressResponse: stressOf(sess.View())}) {
				return
			}
		case msg := <-errs:
			if !write(errorFrame{Type: FrameError, Message: msg}) {
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

