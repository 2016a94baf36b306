// Package web serves the dashboard: latest report, latest average and a
// websocket feed pushing every completed report as it arrives.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/thusser/lambrecht/internal/history"
	"github.com/thusser/lambrecht/internal/meteo"
)

// Holder is the one-slot "latest report" shared with the dashboard. Readers
// only ever see completed reports, never the assembler's in-progress state.
type Holder struct {
	mu     sync.RWMutex
	report meteo.Report
	ok     bool
}

// Set stores the latest completed report.
func (h *Holder) Set(r meteo.Report) {
	h.mu.Lock()
	h.report = r
	h.ok = true
	h.mu.Unlock()
}

// Get returns the latest completed report, if any arrived yet.
func (h *Holder) Get() (meteo.Report, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report, h.ok
}

// Server is the dashboard HTTP server.
type Server struct {
	addr      string
	staticDir string
	holder    Holder
	hist      *history.History
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	srv *http.Server
}

// NewServer builds the server. hist may be nil when averaging is disabled.
func NewServer(addr, staticDir string, hist *history.History) *Server {
	s := &Server{
		addr:      addr,
		staticDir: staticDir,
		hist:      hist,
		clients:   make(map[*websocket.Conn]struct{}),
	}
	s.srv = &http.Server{Addr: addr, Handler: s.routes()}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/current.json", s.handleCurrent)
	mux.HandleFunc("/average.json", s.handleAverage)
	mux.HandleFunc("/ws", s.handleWS)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

// OnReport is registered as a poller subscriber: it updates the one-slot
// holder and pushes the report to every websocket client.
func (s *Server) OnReport(r meteo.Report) {
	s.holder.Set(r)

	payload, err := json.Marshal(r)
	if err != nil {
		log.Printf("web: report marshal error: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	r, ok := s.holder.Get()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, r)
}

func (s *Server) handleAverage(w http.ResponseWriter, _ *http.Request) {
	if s.hist == nil {
		http.Error(w, "averaging disabled", http.StatusNotFound)
		return
	}
	avg, ok := s.hist.Latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	// An average serializes exactly like a report.
	writeJSON(w, meteo.Report{Time: avg.Time, Values: avg.Values})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain the client until it goes away; we never expect input.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.clients, conn)
				s.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// Start launches the server in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("web: listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("web: server stopped: %v", err)
		}
	}()
}

// Stop shuts the server down and closes all websocket clients.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	if err := s.srv.Shutdown(ctx); err != nil {
		log.Printf("web: shutdown: %v", err)
	}
}
