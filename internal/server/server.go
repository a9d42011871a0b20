package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shaunagostinho/diameter-dash/internal/monitor"
)

// Monitor is the command and event surface of the recording controller.
type Monitor interface {
	Events() <-chan monitor.Event
	Snapshot(ctx context.Context) (monitor.State, error)
	Connect(ctx context.Context) monitor.Result
	Start(ctx context.Context) monitor.Result
	Stop(ctx context.Context) monitor.Result
	SetState(ctx context.Context, p monitor.Patch) monitor.Result
	ChooseFolder(ctx context.Context) monitor.Result
	OpenFolder(ctx context.Context) monitor.Result
}

// Server relays monitor events to WebSocket clients and accepts commands over
// WebSocket and HTTP.
type Server struct {
	cfg   *Config
	mon   Monitor
	webFS fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.Mutex
	last      []byte // most recent stateChange message, sent to new clients

	upgrader websocket.Upgrader
	baseCtx  context.Context
}

type wsClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// queue hands msg to the client's writer without blocking. It reports false
// if the client is gone or its queue is full.
func (c *wsClient) queue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// inbound is a command sent by a WebSocket client.
type inbound struct {
	ID      int64          `json:"id"`
	Command string         `json:"command"`
	State   *monitor.Patch `json:"state,omitempty"`
}

// reply answers an inbound command.
type reply struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
	monitor.Result
}

// New creates a new Server.
func New(cfg *Config, mon Monitor, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		mon:     mon,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx: context.Background(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// State and command API
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/config", s.handleConfig)
	for path, cmd := range map[string]string{
		"/api/start":         "start",
		"/api/stop":          "stop",
		"/api/connect":       "connect",
		"/api/folder/choose": "chooseFolder",
		"/api/folder/open":   "openFolder",
	} {
		mux.HandleFunc(path, s.commandHandler(cmd))
	}
	return mux
}

// Run serves HTTP and relays monitor events until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	go s.relay(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// relay is the only consumer of monitor events. Clients see them in the
// order the monitor produced them.
func (s *Server) relay(ctx context.Context) {
	events := s.mon.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[server] encode %s: %v", ev.Type, err)
				continue
			}
			s.broadcast(data, ev.Type == monitor.EventState)
		}
	}
}

// broadcast queues msg for every client. A client whose queue is full is
// dropped rather than skipped so it never sees events out of order.
func (s *Server) broadcast(msg []byte, isState bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if isState {
		s.last = msg
	}
	for client := range s.clients {
		if !client.queue(msg) {
			log.Printf("[ws] client too slow, dropping")
			delete(s.clients, client)
			client.close()
		}
	}
}

func (s *Server) addClient(client *wsClient) int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.last != nil {
		client.queue(s.last)
	}
	s.clients[client] = struct{}{}
	return len(s.clients)
}

func (s *Server) removeClient(client *wsClient) int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, client)
	client.close()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	n := s.addClient(client)
	log.Printf("[ws] client connected (%d total)", n)

	ctx, cancel := context.WithCancel(s.baseCtx)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (commands)
	go func() {
		defer func() {
			cancel()
			n := s.removeClient(client)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var in inbound
			if err := json.Unmarshal(data, &in); err != nil {
				log.Printf("[ws] bad message: %v", err)
				continue
			}
			// The picker waits on the user; everything else runs in
			// arrival order.
			if in.Command == "chooseFolder" {
				go s.answer(ctx, client, in)
				continue
			}
			s.answer(ctx, client, in)
		}
	}()
}

func (s *Server) answer(ctx context.Context, client *wsClient, in inbound) {
	res := s.dispatch(ctx, in.Command, in.State)
	out, err := json.Marshal(reply{Type: "result", ID: in.ID, Result: res})
	if err != nil {
		return
	}
	client.queue(out)
}

func (s *Server) dispatch(ctx context.Context, command string, patch *monitor.Patch) monitor.Result {
	switch command {
	case "start":
		return s.mon.Start(ctx)
	case "stop":
		return s.mon.Stop(ctx)
	case "connect":
		return s.mon.Connect(ctx)
	case "setState":
		if patch == nil {
			return monitor.Result{Error: "setState needs a state"}
		}
		return s.mon.SetState(ctx, *patch)
	case "chooseFolder":
		return s.mon.ChooseFolder(ctx)
	case "openFolder":
		return s.mon.OpenFolder(ctx)
	default:
		return monitor.Result{Error: fmt.Sprintf("unknown command %q", command)}
	}
}

func (s *Server) commandHandler(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", 405)
			return
		}
		writeJSON(w, s.dispatch(r.Context(), command, nil))
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, err := s.mon.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 503)
			return
		}
		writeJSON(w, st)

	case http.MethodPost:
		var p monitor.Patch
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		writeJSON(w, s.dispatch(r.Context(), "setState", &p))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
