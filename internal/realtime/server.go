package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
	"github.com/angelmondragon/lostfound-backend/pkg/metrics"
)

const (
	msgSubscribe    = "subscribe"
	msgUnsubscribe  = "unsubscribe"
	msgSubscribed   = "subscribed"
	msgUnsubscribed = "unsubscribed"
	msgChange       = "change"
	msgError        = "error"
)

type clientMessage struct {
	Type   string `json:"type"`
	Ref    string `json:"ref"`
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

type serverMessage struct {
	Type       string          `json:"type"`
	Ref        string          `json:"ref,omitempty"`
	Table      string          `json:"table,omitempty"`
	Filter     string          `json:"filter,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	Op         string          `json:"op,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	OccurredAt string          `json:"occurred_at,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// ActorFunc extracts the authenticated actor of an upgrade request.
type ActorFunc func(r *http.Request) (policy.Actor, bool)

// Server upgrades HTTP requests to realtime WebSocket sessions.
type Server struct {
	hub      *Hub
	actorFn  ActorFunc
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	metrics  *metrics.RealtimeMetrics
	logg     *logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

func NewServer(hub *Hub, actorFn ActorFunc, cfg config.RealtimeConfig, m *metrics.RealtimeMetrics, logg *logger.Logger) *Server {
	if logg == nil {
		logg = logger.Nop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		hub:     hub,
		actorFn: actorFn,
		cfg:     cfg,
		metrics: m,
		logg:    logg,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFn(r)
	if !ok || actor.ID == uuid.Nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logg.Warn(s.logg.WithField(r.Context(), "error", err.Error()), "realtime.upgrade_failed")
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := newSession(s, conn, actor)
	ctx := s.logg.WithUserID(r.Context(), actor.ID.String())
	if err := sess.run(ctx); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "realtime.session_closed_with_error")
	}
}

// Shutdown ends every open session and waits for them to release their
// subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type session struct {
	srv   *Server
	conn  *websocket.Conn
	actor policy.Actor
	send  chan serverMessage
	done  chan struct{}
	subs  map[string]*Subscription
}

func newSession(srv *Server, conn *websocket.Conn, actor policy.Actor) *session {
	return &session{
		srv:   srv,
		conn:  conn,
		actor: actor,
		send:  make(chan serverMessage, srv.cfg.SendBuffer),
		done:  make(chan struct{}),
		subs:  map[string]*Subscription{},
	}
}

// Deliver implements Sink. A full send queue drops the change.
func (s *session) Deliver(d Delivery) bool {
	msg := serverMessage{
		Type:       msgChange,
		Ref:        d.Ref,
		Table:      d.Table,
		EventID:    d.EventID,
		Op:         string(d.Op),
		Record:     d.Record,
		OccurredAt: d.OccurredAt,
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// run owns the session. Every subscription acquired here is released on
// every exit path.
func (s *session) run(ctx context.Context) (err error) {
	s.srv.metrics.ConnectionOpened()
	defer s.srv.metrics.ConnectionClosed()

	writerDone := make(chan error, 1)
	go func() { writerDone <- s.writeLoop() }()

	defer func() {
		for ref, sub := range s.subs {
			sub.Close()
			delete(s.subs, ref)
		}
		close(s.done)
		err = multierr.Combine(err, <-writerDone, ignoreClosed(s.conn.Close()))
	}()

	stop := context.AfterFunc(s.srv.ctx, func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	return s.readLoop(ctx)
}

func (s *session) readLoop(ctx context.Context) error {
	pongWait := s.srv.cfg.PingInterval * 2
	s.conn.SetReadLimit(s.srv.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) || s.srv.ctx.Err() != nil {
				return nil
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.reply(serverMessage{Type: msgError, Message: "invalid json"})
				continue
			}
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(ctx, msg)
	}
}

func (s *session) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgSubscribe:
		s.subscribe(ctx, msg)
	case msgUnsubscribe:
		sub, ok := s.subs[msg.Ref]
		if !ok {
			s.reply(serverMessage{Type: msgError, Ref: msg.Ref, Message: "unknown subscription"})
			return
		}
		sub.Close()
		delete(s.subs, msg.Ref)
		s.reply(serverMessage{Type: msgUnsubscribed, Ref: msg.Ref})
	default:
		s.reply(serverMessage{Type: msgError, Ref: msg.Ref, Message: "unknown message type"})
	}
}

func (s *session) subscribe(ctx context.Context, msg clientMessage) {
	ref := strings.TrimSpace(msg.Ref)
	if ref == "" {
		s.reply(serverMessage{Type: msgError, Message: "ref is required"})
		return
	}
	if _, exists := s.subs[ref]; exists {
		s.reply(serverMessage{Type: msgError, Ref: ref, Message: "ref already in use"})
		return
	}
	filter, err := ParseFilter(msg.Filter)
	if err != nil {
		s.reply(serverMessage{Type: msgError, Ref: ref, Message: err.Error()})
		return
	}
	sub, err := s.srv.hub.Subscribe(s.actor, msg.Table, ref, filter, s)
	if err != nil {
		s.reply(serverMessage{Type: msgError, Ref: ref, Message: err.Error()})
		return
	}
	s.subs[ref] = sub
	s.srv.logg.Debug(s.srv.logg.WithFields(ctx, map[string]any{"ref": ref, "table": msg.Table, "filter": filter.String()}), "realtime.subscribed")
	s.reply(serverMessage{Type: msgSubscribed, Ref: ref, Table: msg.Table, Filter: filter.String()})
}

// reply queues a control message. Unlike change deliveries it waits for
// room in the queue.
func (s *session) reply(msg serverMessage) {
	timer := time.NewTimer(s.srv.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case s.send <- msg:
	case <-s.done:
	case <-timer.C:
	}
}

func (s *session) writeLoop() error {
	ticker := time.NewTicker(s.srv.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return nil
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				_ = s.conn.Close()
				return ignoreClosed(err)
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.srv.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = s.conn.Close()
				return ignoreClosed(err)
			}
		}
	}
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
