package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/mostefaiamine-25/aspire-functions/pkg/contracts"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/server"
)

// QueuedResponse is returned once a message has been published
type QueuedResponse struct {
	Queue  string `json:"queue"`
	Status string `json:"status"`
}

// ErrorResponse is returned with every non 2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server accepts emails over HTTP and publishes them to the queue
type Server struct {
	publisher *queue.Publisher
	queueName string
	logger    zerolog.Logger
	router    *httprouter.Router
}

// NewServer creates the client API publishing to queueName
func NewServer(publisher *queue.Publisher, queueName string, logger zerolog.Logger) *Server {
	s := &Server{
		publisher: publisher,
		queueName: queueName,
		logger:    logger.With().Str("component", "client").Logger(),
		router:    httprouter.New(),
	}
	s.router.GET("/healthz", s.health)
	s.router.POST("/api/emails", s.sendEmail)
	return s
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves the API on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info().Str("addr", l.Addr().String()).Str("queue", s.queueName).Msg("Client listening")
	return server.Serve(ctx, l, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) sendEmail(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var msg contracts.EmailMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}

	if err := s.publisher.Publish(r.Context(), s.queueName, msg); err != nil {
		s.logger.Error().Err(err).Str("to", msg.To).Msg("Publishing email failed")
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "queue unavailable"})
		return
	}

	s.logger.Info().Str("to", msg.To).Str("queue", s.queueName).Msg("Email queued")
	writeJSON(w, http.StatusAccepted, QueuedResponse{Queue: s.queueName, Status: "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
