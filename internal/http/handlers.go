package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatcher"
	"github.com/example/ride-dispatch/internal/history"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
)

// Server exposes the coordinator over HTTP: the websocket endpoint the
// rider and driver apps attach to, the history read endpoint for
// reporting, and the usual health/metrics plumbing.
type Server struct {
	logger  *slog.Logger
	reg     *registry.Registry
	disp    *dispatcher.Dispatcher
	archive history.Archive
	mux     *mux.Router

	upgrader websocket.Upgrader
}

func NewServer(logger *slog.Logger, reg *registry.Registry, disp *dispatcher.Dispatcher, archive history.Archive) *Server {
	s := &Server{
		logger:  logger,
		reg:     reg,
		disp:    disp,
		archive: archive,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/v1/history", s.handleHistory).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleWS upgrades the connection and binds the verified identity to
// it. Authentication itself happens upstream; by the time a request
// lands here the id and role headers are trusted.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(r)
	if !ok {
		http.Error(w, "missing caller identity", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	connID := newID()
	s.reg.Add(connID, ident, conn)
	observability.ConnectionsOnline.WithLabelValues(string(ident.Role)).Inc()
	s.logger.Info("connection opened", "conn_id", connID, "caller_id", ident.ID, "role", ident.Role)
	go s.readLoop(connID, ident, conn)
}

func (s *Server) readLoop(connID string, ident models.Identity, conn *websocket.Conn) {
	defer func() {
		s.reg.Remove(connID)
		observability.ConnectionsOnline.WithLabelValues(string(ident.Role)).Dec()
		_ = conn.Close()
		s.logger.Info("connection closed", "conn_id", connID, "caller_id", ident.ID)
	}()
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("ws read error", "conn_id", connID, "error", err)
			}
			return
		}
		// Rejections are acknowledged to the caller inside HandleEvent;
		// the connection stays up.
		_ = s.disp.HandleEvent(connID, env)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.archive.Recent(limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []models.HistoryRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"rides": recs})
}

func identityFromRequest(r *http.Request) (models.Identity, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = r.Header.Get("X-Caller-ID")
	}
	role := models.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = models.Role(r.Header.Get("X-Caller-Role"))
	}
	if id == "" || (role != models.RoleRider && role != models.RoleDriver) {
		return models.Identity{}, false
	}
	return models.Identity{ID: id, Role: role}, true
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
