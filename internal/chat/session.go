package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum frame size allowed from peer.
)

type sessionKind int

const (
	kindConversation sessionKind = iota
	kindNotification
	kindStatus
)

// Session is the middleman between one websocket connection and the
// messaging core. It owns inbound frame parsing and dispatch, and delivery
// of outbound events through its buffered send queue.
//
// Lifecycle: Connecting -> Authenticated -> JoinedRoom -> Active/Idle ->
// Disconnected. Disconnected is terminal; reconnecting means a new Session.
type Session struct {
	ID             string
	UserID         int64
	Email          string
	Name           string
	ConversationID int64 // only set for conversation sessions

	kind sessionKind
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	svc *Service
	log *slog.Logger
}

func newSession(kind sessionKind, conn *websocket.Conn, svc *Service, queue int, userID int64, email, name string) *Session {
	id := uuid.NewString()
	return &Session{
		ID:     id,
		UserID: userID,
		Email:  email,
		Name:   name,
		kind:   kind,
		conn:   conn,
		send:   make(chan []byte, queue),
		done:   make(chan struct{}),
		svc:    svc,
		log:    svc.log.With("session", id, "user", userID),
	}
}

// deliver enqueues one outbound payload without blocking. It reports false
// when the session is gone or its queue is full; the caller treats that as a
// dead peer and schedules this session's own cleanup.
func (s *Session) deliver(payload []byte) bool {
	if payload == nil {
		return true
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) sendEvent(v any) {
	s.deliver(encodeEvent(v))
}

// sendError answers the sender of a failed action. Peers never see it.
func (s *Session) sendError(msg, action string) {
	s.sendEvent(ErrorFrame{Error: msg, Action: action})
}

// close wakes the write pump and closes the transport. Safe to call more
// than once and from any goroutine.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// readPump pumps frames from the websocket into the domain service. Frames
// are handled strictly in arrival order for this session. The deferred
// teardown runs synchronously on any exit, including abrupt socket drops, so
// a dead session can never leave stale room membership or presence behind.
func (s *Session) readPump() {
	defer func() {
		s.svc.Detach(s)
		s.close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("session read error", "err", err)
			}
			return
		}
		s.dispatch(data)
	}
}

// dispatch routes one inbound frame. Validation errors answer the sender
// only and never abort the session.
func (s *Session) dispatch(data []byte) {
	switch s.kind {
	case kindConversation:
		s.dispatchConversation(data)
	case kindStatus:
		s.dispatchStatus(data)
	case kindNotification:
		// Notification sockets are push-only; inbound frames are ignored.
	}
}

func (s *Session) dispatchConversation(data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		if !json.Valid(data) {
			s.sendError("Invalid JSON format", "")
		} else {
			s.sendError(ErrInvalidFrame.Error(), "")
		}
		return
	}

	switch frame.Type {
	case frameMessage:
		err = s.svc.SendMessage(s, frame.Content, frame.ReplyTo)
	case frameTyping:
		s.svc.Typing(s, frame.IsTyping)
	case frameRead:
		err = s.svc.MarkRead(s, frame.MessageID)
	case frameReaction:
		err = s.svc.React(s, frame.MessageID, ReactionType(frame.ReactionType))
	}
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			s.log.Error("store operation failed", "action", frame.Type, "err", err)
		}
		s.sendError(clientMessage(err), frame.Type)
	}
}

// clientMessage strips store internals from an error before it crosses the
// wire. The wrapped driver detail stays in the log; the client only learns
// that persistence failed.
func clientMessage(err error) string {
	if errors.Is(err, ErrPersistence) {
		return ErrPersistence.Error()
	}
	return err.Error()
}

func (s *Session) dispatchStatus(data []byte) {
	frame, err := ParseStatusFrame(data)
	if err != nil {
		if !json.Valid(data) {
			// A bad status frame is dropped quietly in the original flow,
			// but malformed JSON still deserves the standard reply.
			s.sendError("Invalid JSON format", "")
		}
		return
	}
	s.svc.UpdateStatus(s, frame.Status, frame.CustomMessage)
}

// writePump pumps queued events to the websocket connection and keeps the
// connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			// Drain queued events in the same write to save syscalls.
			n := len(s.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-s.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
