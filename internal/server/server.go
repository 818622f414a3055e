// Package server hosts the browser-based cropping UI: preview images are
// served per capture and the selected rectangles are written back to the
// shared crops file.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/smutch/hyperspec/internal/capture"
	"github.com/smutch/hyperspec/internal/config"
	"github.com/smutch/hyperspec/internal/crops"
	"github.com/smutch/hyperspec/internal/envi"
)

// Server wraps the HTTP crop UI.
type Server struct {
	addr      string
	root      string
	cropsPath string
	cfg       *config.Config
	log       *slog.Logger

	server  *http.Server
	hub     *hub
	watcher *Watcher

	mu       sync.Mutex
	captures map[string]capture.Capture
	previews map[string][]byte
}

// captureInfo is the capture listing served to the UI.
type captureInfo struct {
	ID        string `json:"id"`
	Samples   int    `json:"samples"`
	Lines     int    `json:"lines"`
	HasBounds bool   `json:"has_bounds"`
}

// New creates a crop UI server over the captures under root.
func New(addr, root, cropsPath string, cfg *config.Config, log *slog.Logger) (*Server, error) {
	s := &Server{
		addr:      addr,
		root:      root,
		cropsPath: cropsPath,
		cfg:       cfg,
		log:       log,
		hub:       newHub(log),
		captures:  map[string]capture.Capture{},
		previews:  map[string][]byte{},
	}
	if err := s.rescan(); err != nil {
		return nil, err
	}

	watcher, err := NewWatcher(root, log)
	if err != nil {
		log.Warn("directory watching disabled", "error", err)
	} else {
		s.watcher = watcher
	}
	return s, nil
}

// Start begins serving and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.log.Warn("directory watching disabled", "error", err)
		} else {
			go s.forwardWatchEvents(ctx)
		}
	}

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down crop server...")
		if s.watcher != nil {
			s.watcher.Stop()
		}
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Crop server starting", "addr", s.addr, "captures", len(s.captures))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/captures", s.handleCaptures).Methods("GET")
	r.HandleFunc("/api/preview/{id}", s.handlePreview).Methods("GET")
	r.HandleFunc("/api/bounds", s.handleAllBounds).Methods("GET")
	r.HandleFunc("/api/bounds/{id}", s.handleGetBounds).Methods("GET")
	r.HandleFunc("/api/bounds/{id}", s.handlePutBounds).Methods("PUT")
	r.HandleFunc("/ws", s.hub.handleWebSocket).Methods("GET")
}

func (s *Server) rescan() error {
	found, err := capture.Discover(s.root, nil, s.log)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range found {
		s.captures[c.ID] = c
	}
	return nil
}

func (s *Server) forwardWatchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if err := s.rescan(); err != nil {
				s.log.Warn("rescan after change failed", "error", err)
				continue
			}
			s.hub.notify(event{Type: "capture", ID: ev.CaptureID})
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	db, err := crops.Load(s.cropsPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	list := make([]capture.Capture, 0, len(s.captures))
	for _, c := range s.captures {
		list = append(list, c)
	}
	s.mu.Unlock()

	infos := make([]captureInfo, 0, len(list))
	for _, c := range list {
		h, err := envi.ReadHeaderFile(c.HeaderPath)
		if err != nil {
			s.log.Warn("skipping capture with unreadable header", "id", c.ID, "error", err)
			continue
		}
		_, hasBounds := db[c.ID]
		infos = append(infos, captureInfo{
			ID:        c.ID,
			Samples:   h.Samples,
			Lines:     h.Lines,
			HasBounds: hasBounds,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	data, err := s.previewPNG(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// previewPNG renders and caches a downscaled false-colour preview.
func (s *Server) previewPNG(id string) ([]byte, error) {
	s.mu.Lock()
	if data, ok := s.previews[id]; ok {
		s.mu.Unlock()
		return data, nil
	}
	c, ok := s.captures[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown capture %s", id)
	}

	cube, err := envi.ReadCube(c.HeaderPath)
	if err != nil {
		return nil, err
	}
	stretch := envi.StretchOptions{
		LowPercentile: s.cfg.Preview.LowPercentile,
		HiPercentile:  s.cfg.Preview.HiPercentile,
	}
	img := cube.RGBPreview(stretch)

	max := s.cfg.Preview.MaxSize
	small := imaging.Fit(img, max, max, imaging.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil, err
	}
	data := buf.Bytes()

	s.mu.Lock()
	s.previews[id] = data
	s.mu.Unlock()
	return data, nil
}

func (s *Server) handleAllBounds(w http.ResponseWriter, r *http.Request) {
	db, err := crops.Load(s.cropsPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(db)
}

func (s *Server) handleGetBounds(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	db, err := crops.Load(s.cropsPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rect, err := db.Bounds(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rect)
}

func (s *Server) handlePutBounds(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	c, ok := s.captures[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("unknown capture %s", id), http.StatusNotFound)
		return
	}

	var rect crops.Rect
	if err := json.NewDecoder(r.Body).Decode(&rect); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h, err := envi.ReadHeaderFile(c.HeaderPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := rect.Validate(h.Samples, h.Lines); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Serialize writers so concurrent selections don't drop entries.
	s.mu.Lock()
	db, err := crops.Load(s.cropsPath)
	if err == nil {
		db[id] = rect
		err = db.Save(s.cropsPath)
	}
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info("bounds updated", "id", id, "rect", rect)
	s.hub.notify(event{Type: "bounds", ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// event is the change notification pushed over the websocket feed.
type event struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// hub fans websocket notifications out to connected UI clients.
type hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:        log,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *hub) notify(ev event) {
	payload, _ := json.Marshal(ev)
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("websocket broadcast buffer full")
	}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- conn
				return
			}
		}
	}()
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}
