// Package api is the REST surface: participant registration, surveys, and
// the researcher's admin controls. The realtime session traffic goes over
// the websocket endpoint mounted alongside.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/astarch-code/shiftdesk/internal/logbuf"
	"github.com/astarch-code/shiftdesk/internal/participant"
	"github.com/astarch-code/shiftdesk/internal/survey"
	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Recent(minLevel slog.Level, limit int) []logbuf.Entry
}

// EngineService is the slice of the simulation engine the admin routes drive.
type EngineService interface {
	StartStage(participantID string, stage protocol.Stage) error
	ChangeAIMode(participantID string, mode protocol.AIMode) error
	SpawnCriticalTicket(participantID string) error
	SpawnTutorialTicket(participantID string) error
	ResetParticipant(participantID string) error
}

// ParticipantService registers and resolves participant identities.
type ParticipantService interface {
	GetOrCreate(id string) (participant.Participant, error)
	Get(id string) (participant.Participant, error)
}

// SurveyStore persists survey responses.
type SurveyStore interface {
	SavePre(participantID string, parity protocol.Parity, responses []survey.Response) error
	SavePost(participantID string, parity protocol.Parity, responses []survey.Response) error
}

// Stats exposes registry counters for the debug endpoint.
type Stats interface {
	Count() int
	ActiveCount() int
}

// Config holds API server configuration.
type Config struct {
	Host           string
	Port           int
	AdminKey       string // Bearer key for admin routes; empty disables auth
	AllowedOrigins []string
}

// Server is the shiftdesk REST API server.
type Server struct {
	engine       EngineService
	participants ParticipantService
	surveys      *survey.Sets
	responses    SurveyStore
	stats        Stats
	cfg          Config
	logger       *slog.Logger
	logs         LogQuerier
	srv          *http.Server
}

// NewServer creates the API server. wsHandler is mounted at /ws; logs,
// stats and responses may be nil.
func NewServer(
	engine EngineService,
	participants ParticipantService,
	surveys *survey.Sets,
	responses SurveyStore,
	stats Stats,
	wsHandler http.Handler,
	cfg Config,
	logger *slog.Logger,
	logs LogQuerier,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:       engine,
		participants: participants,
		surveys:      surveys,
		responses:    responses,
		stats:        stats,
		cfg:          cfg,
		logger:       logger,
		logs:         logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/debug", s.handleDebug)
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	mux.HandleFunc("POST /api/participant", s.handleRegister)
	mux.HandleFunc("GET /api/participant/{id}", s.handleGetParticipant)

	mux.HandleFunc("GET /api/survey/pre", s.handlePreQuestions)
	mux.HandleFunc("GET /api/survey/post/{id}", s.handlePostQuestions)
	mux.HandleFunc("POST /api/survey/pre", s.handleSavePre)
	mux.HandleFunc("POST /api/survey/post", s.handleSavePost)

	mux.HandleFunc("POST /api/admin/start", s.requireAuth(s.handleStartStage))
	mux.HandleFunc("POST /api/admin/ai-mode", s.requireAuth(s.handleChangeAIMode))
	mux.HandleFunc("POST /api/admin/critical-ticket", s.requireAuth(s.handleCriticalTicket))
	mux.HandleFunc("POST /api/admin/tutorial-ticket", s.requireAuth(s.handleTutorialTicket))
	mux.HandleFunc("POST /api/admin/reset", s.requireAuth(s.handleReset))

	if wsHandler != nil {
		mux.Handle("GET /ws", wsHandler)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origins := "*"
	if len(s.cfg.AllowedOrigins) > 0 {
		origins = strings.Join(s.cfg.AllowedOrigins, ", ")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminKey == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.AdminKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.stats != nil {
		resp["sessions"] = s.stats.Count()
		resp["active_sessions"] = s.stats.ActiveCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}

	p, err := s.participants.GetOrCreate(req.ParticipantID)
	if err != nil {
		s.logger.Error("participant registration failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := s.participants.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "participant not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePreQuestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.surveys.Pre)
}

func (s *Server) handlePostQuestions(w http.ResponseWriter, r *http.Request) {
	p, err := s.participants.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "participant not found"})
		return
	}
	qs, ok := s.surveys.PostFor(p.Parity)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no questions for parity"})
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

type surveyRequest struct {
	ParticipantID string            `json:"participant_id"`
	Responses     []survey.Response `json:"responses"`
}

func (s *Server) handleSavePre(w http.ResponseWriter, r *http.Request) {
	s.handleSaveSurvey(w, r, s.responses.SavePre)
}

func (s *Server) handleSavePost(w http.ResponseWriter, r *http.Request) {
	s.handleSaveSurvey(w, r, s.responses.SavePost)
}

func (s *Server) handleSaveSurvey(w http.ResponseWriter, r *http.Request, save func(string, protocol.Parity, []survey.Response) error) {
	var req surveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.ParticipantID == "" || len(req.Responses) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participant_id and responses are required"})
		return
	}

	p, err := s.participants.Get(req.ParticipantID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "participant not found"})
		return
	}
	if err := save(p.ID, p.Parity, req.Responses); err != nil {
		s.logger.Error("survey save failed", "participant", p.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "save failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type adminRequest struct {
	ParticipantID string `json:"participant_id"`
	Stage         int    `json:"stage,omitempty"`
	Mode          string `json:"mode,omitempty"`
}

func (s *Server) decodeAdmin(w http.ResponseWriter, r *http.Request) (adminRequest, bool) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return req, false
	}
	if req.ParticipantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participant_id is required"})
		return req, false
	}
	return req, true
}

func (s *Server) handleStartStage(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.StartStage(req.ParticipantID, protocol.Stage(req.Stage)); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleChangeAIMode(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.ChangeAIMode(req.ParticipantID, protocol.AIMode(req.Mode)); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}

func (s *Server) handleCriticalTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.SpawnCriticalTicket(req.ParticipantID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "spawned"})
}

func (s *Server) handleTutorialTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.SpawnTutorialTicket(req.ParticipantID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "spawned"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.ResetParticipant(req.ParticipantID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	entries := s.logs.Recent(minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
