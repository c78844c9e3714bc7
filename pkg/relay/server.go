// Package relay re-exposes managed handler streams to many downstream clients over
// newline-delimited JSON, server-sent events and websocket. Every downstream client is
// a subscriber of the shared stream session, so one upstream connection serves all of
// them and late joiners get the history replayed.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/events"
	"github.com/go-go-golems/handlerstream/pkg/handler"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

const (
	DefaultClientBuffer = 1024
	DefaultIdleTimeout  = 5 * time.Second

	wsWriteTimeout  = 10 * time.Second
	overflowMessage = "client too slow"

	// close frame reasons are limited to 123 bytes
	maxCloseReason = 123
)

type Options struct {
	// IdleTimeout keeps a stream open after its last client left. Zero releases it
	// immediately.
	IdleTimeout  time.Duration
	ClientBuffer int
	Upgrader     websocket.Upgrader
}

func DefaultOptions() Options {
	return Options{
		IdleTimeout:  DefaultIdleTimeout,
		ClientBuffer: DefaultClientBuffer,
		Upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

type Server struct {
	manager *streammanager.Manager
	source  handler.Source
	opts    Options
	mux     *http.ServeMux
	log     zerolog.Logger

	mu    sync.Mutex
	pools map[string]*clientPool
}

var _ http.Handler = (*Server)(nil)

func NewServer(m *streammanager.Manager, src handler.Source, opts Options) *Server {
	s := &Server{
		manager: m,
		source:  src,
		opts:    opts,
		mux:     http.NewServeMux(),
		log:     log.With().Str("component", "relay").Logger(),
		pools:   map[string]*clientPool{},
	}
	s.mux.HandleFunc("GET /events/{id}", s.handleEvents)
	s.mux.HandleFunc("GET /events/{id}/ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /handlers/{id}", s.handleInfo)
	s.mux.HandleFunc("POST /handlers/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type attachment struct {
	pool   *clientPool
	client *client
	handle *streammanager.Handle
}

func (s *Server) attach(handlerID string, includeInternal bool) (*attachment, error) {
	key := events.StreamKey(handlerID, includeInternal)
	for {
		p, err := s.pool(key, handlerID, includeInternal)
		if err != nil {
			return nil, err
		}
		c := newClient(key, s.opts.ClientBuffer)
		if !p.Add(c) {
			continue
		}
		h, err := s.manager.Subscribe(key, c.subscriber(), s.source.Executor(handlerID, includeInternal), s.source.CancelFunc(handlerID))
		if err != nil {
			p.Remove(c)
			return nil, err
		}
		s.log.Debug().Str("key", key).Str("client_id", c.id).Msg("client attached")
		return &attachment{pool: p, client: c, handle: h}, nil
	}
}

func (s *Server) detach(a *attachment) {
	a.handle.Unsubscribe()
	a.client.close()
	a.pool.Remove(a.client)
	s.log.Debug().Str("key", a.client.key).Str("client_id", a.client.id).Msg("client detached")
}

// pool returns the live pool of key, opening the upstream stream if there is none.
func (s *Server) pool(key, handlerID string, includeInternal bool) (*clientPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[key]; ok {
		return p, nil
	}
	p := newClientPool(key, s.opts.IdleTimeout, nil)
	p.onIdle = func() { s.release(key, p, false) }
	keeper, err := s.manager.Subscribe(key, streammanager.Subscriber{}, s.source.Executor(handlerID, includeInternal), s.source.CancelFunc(handlerID))
	if err != nil {
		return nil, err
	}
	p.keeper = keeper
	s.pools[key] = p
	go func() {
		<-keeper.Result.Done()
		s.retire(key, p)
	}()
	return p, nil
}

// retire detaches a pool whose stream ended. Clients still attached finish on their
// own subscriptions and the pool goes away with the last of them.
func (s *Server) retire(key string, p *clientPool) {
	s.mu.Lock()
	if cur, ok := s.pools[key]; ok && cur == p {
		delete(s.pools, key)
	}
	s.mu.Unlock()
	p.release(false)
}

func (s *Server) release(key string, p *clientPool, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.release(force) {
		return
	}
	if cur, ok := s.pools[key]; ok && cur == p {
		delete(s.pools, key)
	}
}

func (s *Server) releaseKey(key string) {
	s.mu.Lock()
	p, ok := s.pools[key]
	s.mu.Unlock()
	if ok {
		s.release(key, p, true)
	}
}

// Cancel stops the handler upstream and closes every downstream client of it.
func (s *Server) Cancel(ctx context.Context, handlerID string) error {
	public := events.StreamKey(handlerID, false)
	internal := events.StreamKey(handlerID, true)

	found, err := s.manager.Cancel(ctx, public)
	if found {
		s.manager.Disconnect(internal)
	} else {
		found, err = s.manager.Cancel(ctx, internal)
	}
	if !found {
		err = s.source.CancelFunc(handlerID)(ctx)
	}
	s.releaseKey(public)
	s.releaseKey(internal)
	return err
}

// Close drops every downstream client. Upstream handlers keep running.
func (s *Server) Close() {
	s.mu.Lock()
	pools := make(map[string]*clientPool, len(s.pools))
	for k, p := range s.pools {
		pools[k] = p
	}
	s.mu.Unlock()
	for k, p := range pools {
		s.release(k, p, true)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.attach(id, queryBool(r, "include_internal"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer s.detach(a)

	fw := newFrameWriter(w, queryBool(r, "sse"))
	fw.writeHeaders()
	s.pumpFrames(r.Context(), fw, a.client)
}

// pumpFrames writes the client's frames until its queue closes. A client dropped for
// falling behind gets an error frame last, so it does not mistake the cut for success.
func (s *Server) pumpFrames(ctx context.Context, fw *frameWriter, c *client) {
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				if c.overflowed() {
					_ = fw.write(errorFrame(overflowMessage))
				}
				return
			}
			if err := fw.write(f); err != nil {
				s.log.Debug().Err(err).Str("client_id", c.id).Msg("client write failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.attach(id, queryBool(r, "include_internal"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer s.detach(a)

	conn, err := s.opts.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var failure string
	for {
		select {
		case f, ok := <-a.client.frames:
			if !ok {
				s.closeWebSocket(conn, a.client, failure)
				return
			}
			if f.kind == frameError {
				failure = errorMessage(f.raw)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, f.raw); err != nil {
				s.log.Debug().Err(err).Str("client_id", a.client.id).Msg("ws write failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) closeWebSocket(conn *websocket.Conn, c *client, failure string) {
	code, reason := websocket.CloseNormalClosure, ""
	switch {
	case c.overflowed():
		code, reason = websocket.CloseTryAgainLater, overflowMessage
	case failure != "":
		code, reason = websocket.CloseInternalServerErr, failure
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)); err != nil {
		s.log.Debug().Err(err).Str("client_id", c.id).Msg("ws close failed")
	}
}

type StreamInfo struct {
	Key         string   `json:"key"`
	Active      bool     `json:"active"`
	Subscribers int      `json:"subscribers"`
	History     int      `json:"history"`
	Clients     []string `json:"clients,omitempty"`
}

type HandlerInfo struct {
	HandlerID string       `json:"handler_id"`
	Streams   []StreamInfo `json:"streams"`
}

// Info describes the relay's view of a handler's public and internal streams.
func (s *Server) Info(handlerID string) HandlerInfo {
	info := HandlerInfo{HandlerID: handlerID}
	for _, internal := range []bool{false, true} {
		key := events.StreamKey(handlerID, internal)
		si := StreamInfo{
			Key:         key,
			Active:      s.manager.IsActive(key),
			Subscribers: s.manager.SubscriberCount(key),
			History:     len(s.manager.History(key)),
		}
		s.mu.Lock()
		p, ok := s.pools[key]
		s.mu.Unlock()
		if ok {
			si.Clients = p.ClientIDs()
			sort.Strings(si.Clients)
		}
		info.Streams = append(info.Streams, si)
	}
	return info
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Info(r.PathValue("id")))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Cancel(r.Context(), id); err != nil {
		s.log.Warn().Err(err).Str("handler_id", id).Msg("cancel failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"handler_id": id, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"handler_id": id, "canceled": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return string(raw)
	}
	return payload.Message
}
