package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/olivier-motium/mimesis/internal/model"
	"github.com/olivier-motium/mimesis/internal/store"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// PTYAttacher is the subset of the PTY Bridge the Gateway needs to honor
// pty.* inbound messages.
type PTYAttacher interface {
	AddClient(ptyID, token string, sink func([]byte)) (detach func(), err error)
	Write(ptyID string, data []byte) error
	Resize(ptyID string, cols, rows int) error
	Signal(ptyID, sig string) error
}

// Commander is the subset of the Commander session manager the Gateway
// dispatches commander.* inbound messages to.
type Commander interface {
	SendPrompt(prompt string) error
	Reset() error
	Cancel() error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server upgrades HTTP connections to WebSocket, registers them with the
// Subscription Manager, and dispatches their inbound messages.
type Server struct {
	store  *store.Store
	subs   *store.SubscriptionManager
	rings  *store.RingManager
	ptys   PTYAttacher
	cmdr   Commander
	authToken string

	mu    sync.Mutex
	conns map[store.ConnID]*Conn
}

// NewServer wires a Server over the given Session Store, Subscription
// Manager, and Ring Buffer Manager.
func NewServer(st *store.Store, subs *store.SubscriptionManager, rings *store.RingManager, ptys PTYAttacher, cmdr Commander, authToken string) *Server {
	s := &Server{store: st, subs: subs, rings: rings, ptys: ptys, cmdr: cmdr, authToken: authToken, conns: make(map[store.ConnID]*Conn)}

	st.OnChange(func(c store.Change) {
		s.broadcastStoreChange(c)
	})

	return s
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == s.authToken
	}
	return false
}

// HandleWS upgrades the request and runs the connection's lifecycle
// until the client disconnects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	id := store.ConnID(uuid.NewString())
	conn := NewConn(string(id))

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	s.subs.Register(id)

	defer func() {
		s.subs.Unregister(id)
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		conn.Close()
		wsConn.Close()
	}()

	conn.Enqueue(OutboundMessage{Type: OutSessionsSnapshot, Payload: s.store.All()})

	done := make(chan struct{})
	go s.writePump(wsConn, conn, done)
	s.readPump(wsConn, id, conn)
	close(done)
}

func (s *Server) writePump(wsConn *websocket.Conn, conn *Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-conn.Out():
			if !ok {
				return
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) readPump(wsConn *websocket.Conn, id store.ConnID, conn *Conn) {
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var detachPTY func()
	defer func() {
		if detachPTY != nil {
			detachPTY()
		}
	}()

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}

		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			conn.Enqueue(OutboundMessage{Type: OutError, Payload: ErrorPayload{Code: codeForError(ErrBadState), Message: "malformed message"}})
			continue
		}

		if next := s.dispatch(id, conn, in); next != nil {
			if detachPTY != nil {
				detachPTY()
			}
			detachPTY = next
		}
	}
}

func (s *Server) dispatch(id store.ConnID, conn *Conn, in InboundMessage) (attachDetach func()) {
	switch in.Type {
	case InPing:
		conn.Enqueue(OutboundMessage{Type: OutPong})

	case InSessionsList:
		conn.Enqueue(OutboundMessage{Type: OutSessionsSnapshot, Payload: s.store.All()})

	case InSessionsSearch:
		conn.Enqueue(OutboundMessage{Type: OutSessionsSnapshot, Payload: s.searchSessions(in.Query)})

	case InSubscribe:
		s.subs.Subscribe(id, in.SessionID)

	case InUnsubscribe:
		s.subs.Unsubscribe(id, in.SessionID)

	case InSetScope:
		s.subs.SetScope(id, store.Scope(in.Scope))

	case InFleetSubscribe:
		s.subs.FleetSubscribe(id, in.FromCursor)

	case InPtyAttach:
		return s.handlePTYAttach(conn, in)

	case InPtyInput:
		if s.ptys != nil {
			_ = s.ptys.Write(in.SessionID, []byte(in.Bytes))
		}

	case InPtyResize:
		if s.ptys != nil {
			_ = s.ptys.Resize(in.SessionID, in.Cols, in.Rows)
		}

	case InPtySignal:
		if s.ptys != nil {
			_ = s.ptys.Signal(in.SessionID, in.Sig)
		}

	case InCommanderSend:
		if s.cmdr != nil {
			if err := s.cmdr.SendPrompt(in.Prompt); err != nil {
				conn.Enqueue(OutboundMessage{Type: OutError, Payload: ErrorPayload{Code: codeForError(err), Message: err.Error()}})
			}
		}

	case InCommanderReset:
		if s.cmdr != nil {
			if err := s.cmdr.Reset(); err != nil {
				conn.Enqueue(OutboundMessage{Type: OutError, Payload: ErrorPayload{Code: codeForError(err), Message: err.Error()}})
			}
		}

	case InCommanderCancel:
		if s.cmdr != nil {
			_ = s.cmdr.Cancel()
		}

	default:
		conn.Enqueue(OutboundMessage{Type: OutError, Payload: ErrorPayload{Code: "BAD_STATE", Message: "unknown message type"}})
	}
	return nil
}

func (s *Server) searchSessions(query string) []model.TrackedSession {
	all := s.store.All()
	if query == "" {
		return all
	}
	q := strings.ToLower(query)
	out := make([]model.TrackedSession, 0, len(all))
	for _, ts := range all {
		if strings.Contains(strings.ToLower(ts.Meta.OriginalPrompt), q) || strings.Contains(strings.ToLower(ts.Meta.CWD), q) {
			out = append(out, ts)
		}
	}
	return out
}

func (s *Server) handlePTYAttach(conn *Conn, in InboundMessage) func() {
	if s.ptys == nil {
		conn.Enqueue(OutboundMessage{Type: OutError, Payload: ErrorPayload{Code: "NOT_FOUND", Message: "no pty bridge configured"}})
		return nil
	}

	if in.FromSeq != nil {
		ring := s.rings.Ring(in.SessionID)
		for _, be := range ring.GetFrom(*in.FromSeq) {
			conn.Enqueue(OutboundMessage{Type: OutEvent, Payload: be})
		}
	}

	detach, err := s.ptys.AddClient(in.SessionID, in.Token, func(b []byte) {
		conn.Enqueue(OutboundMessage{Type: OutEvent, Payload: map[string]any{"ptyData": string(b)}})
	})
	if err != nil {
		conn.Enqueue(OutboundMessage{Type: OutError, Payload: ErrorPayload{Code: codeForError(err), Message: err.Error()}})
		return nil
	}
	return detach
}

// BroadcastCommander fans payload out to every connection the Subscription
// Manager's commander-category routing reaches (§4.6: global and session
// scope, never observer), wrapped as a `commander` outbound message.
func (s *Server) BroadcastCommander(payload any) {
	recipients := s.subs.Recipients(store.CategoryCommander, "")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range recipients {
		if conn, ok := s.conns[id]; ok {
			conn.Enqueue(OutboundMessage{Type: OutCommander, Payload: payload})
		}
	}
}

func (s *Server) broadcastStoreChange(c store.Change) {
	var cat store.Category
	switch c.Kind {
	case store.ChangeDiscovered, store.ChangeRemoved:
		cat = store.CategoryLifecycle
	default:
		cat = store.CategorySession
	}

	recipients := s.subs.Recipients(cat, c.SessionID)

	ring := s.rings.Ring(c.SessionID)
	be := ring.Push(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range recipients {
		if conn, ok := s.conns[id]; ok {
			conn.Enqueue(OutboundMessage{Type: OutEvent, Payload: be})
		}
	}
}
