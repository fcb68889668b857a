package relay

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veilcall/veilcall/shared"
	"github.com/veilcall/veilcall/signal"
)

// Server exposes the hub over HTTP: /ws for signaling, /ice for the ICE
// server configuration handed to clients before they dial, and /healthz.
type Server struct {
	logger   shared.LoggerAdapter
	cfg      *Config
	hub      *Hub
	upgrader websocket.Upgrader
	http     *http.Server
}

func NewServer(logger shared.LoggerAdapter, cfg *Config) *Server {
	s := &Server{
		logger: logger,
		cfg:    cfg,
		hub:    NewHub(logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  maxMessageSize,
		WriteBufferSize: maxMessageSize,
		CheckOrigin:     s.checkOrigin,
	}
	s.http = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/ice", s.handleICE)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		hub:      s.hub,
		logger:   s.logger,
		conn:     conn,
		socketID: uuid.NewString(),
		send:     make(chan *signal.Envelope, sendBuffer),
	}
	s.hub.register <- c
	go c.writePump()
	go c.readPump()
}

func (s *Server) handleICE(w http.ResponseWriter, _ *http.Request) {
	raw, err := sonic.Marshal(struct {
		ICEServers []signal.ICEServer `json:"iceServers"`
	}{ICEServers: s.cfg.ICEServers})
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Start runs the hub and serves HTTP until Shutdown.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("relay listening", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}
