package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/mostefaiamine-25/aspire-functions/pkg/server"
)

const (
	defaultVisibility = 30 * time.Second
	maxMessages       = 32
)

// PutRequest is the body of an enqueue call
type PutRequest struct {
	MessageText       string `json:"messageText"`
	VisibilityTimeout int    `json:"visibilityTimeout,omitempty"` // seconds before the message becomes visible
}

// MessagesResponse wraps dequeued or peeked messages
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// QueueResponse describes a queue
type QueueResponse struct {
	Name                    string `json:"name"`
	ApproximateMessageCount int    `json:"approximateMessageCount"`
}

// QueuesResponse lists queues
type QueuesResponse struct {
	Queues []string `json:"queues"`
}

// ErrorResponse is returned with every non 2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server exposes a Store over a small JSON HTTP API
type Server struct {
	store  *Store
	logger zerolog.Logger
	router *httprouter.Router
}

// NewServer creates a server for store
func NewServer(store *Store, logger zerolog.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logger.With().Str("component", "emulator").Logger(),
		router: httprouter.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/queues", s.listQueues)
	s.router.PUT("/queues/:queue", s.createQueue)
	s.router.GET("/queues/:queue", s.getQueue)
	s.router.DELETE("/queues/:queue", s.deleteQueue)
	s.router.POST("/queues/:queue/messages", s.putMessage)
	s.router.GET("/queues/:queue/messages", s.getMessages)
	s.router.DELETE("/queues/:queue/messages", s.clearMessages)
	s.router.PUT("/queues/:queue/messages/:id", s.updateMessage)
	s.router.DELETE("/queues/:queue/messages/:id", s.deleteMessage)
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the backing store
func (s *Server) Store() *Store {
	return s.store
}

// Serve runs the API on l until ctx is cancelled
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("Storage emulator listening")
	return server.Serve(ctx, l, s.router)
}

// ListenAndServe listens on addr and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, QueuesResponse{Queues: s.store.Queues()})
}

func (s *Server) createQueue(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("queue")
	if err := s.store.CreateQueue(name); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Debug().Str("queue", name).Msg("Queue created")
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("queue")
	n, err := s.store.Len(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Name: name, ApproximateMessageCount: n})
}

func (s *Server) deleteQueue(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.store.DeleteQueue(ps.ByName("queue")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) putMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req PutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}
	if req.VisibilityTimeout < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "visibilityTimeout must not be negative"})
		return
	}

	m, err := s.store.Put(ps.ByName("queue"), req.MessageText, time.Duration(req.VisibilityTimeout)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("queue")
	q := r.URL.Query()

	n, err := intParam(q.Get("numofmessages"), 1)
	if err != nil || n < 1 || n > maxMessages {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "numofmessages must be between 1 and 32"})
		return
	}

	if q.Get("peekonly") == "true" {
		msgs, err := s.store.Peek(name, n)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
		return
	}

	visibility := defaultVisibility
	if v := q.Get("visibilitytimeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid visibilitytimeout"})
			return
		}
		visibility = time.Duration(secs) * time.Second
	}

	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := s.store.Get(name, visibility)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if m == nil {
			break
		}
		msgs = append(msgs, *m)
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

func (s *Server) clearMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.store.Clear(ps.ByName("queue")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	secs, err := intParam(q.Get("visibilitytimeout"), 0)
	if err != nil || secs < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid visibilitytimeout"})
		return
	}

	m, err := s.store.Update(ps.ByName("queue"), ps.ByName("id"), q.Get("popreceipt"), time.Duration(secs)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.store.Delete(ps.ByName("queue"), ps.ByName("id"), r.URL.Query().Get("popreceipt")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrQueueNotFound), errors.Is(err, ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrReceiptMismatch):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidName):
		status = http.StatusBadRequest
	default:
		s.logger.Error().Err(err).Msg("Emulator request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
