package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/auth"
	"semaphore/liveclass/internal/collab"
	"semaphore/liveclass/internal/config"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/errs"
	"semaphore/liveclass/internal/lifecycle"
	"semaphore/liveclass/internal/metrics"
	"semaphore/liveclass/internal/notify"
)

// Check is a readiness probe for one backing dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Server struct {
	cfg       config.Config
	lifecycle *lifecycle.Service
	collab    *collab.Service
	relay     *notify.Relay
	checks    []Check
	logger    *zap.Logger
}

// NewServer wires the REST surface. relay may be nil, in which case /ws
// answers 503.
func NewServer(cfg config.Config, lifecycleService *lifecycle.Service, collabService *collab.Service, relay *notify.Relay, checks []Check, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		lifecycle: lifecycleService,
		collab:    collabService,
		relay:     relay,
		checks:    checks,
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.metricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/ws", s.handleWebsocket)

		r.With(s.studentOnly).Post("/waiting-room/join", s.handleJoinWaitingRoom)
		r.With(s.studentOnly).Post("/waiting-room/leave", s.handleLeaveWaitingRoom)
		r.Get("/waiting-room/{sessionId}/{topicId}/available", s.handleAvailablePartners)

		r.With(s.studentOnly).Post("/sessions", s.handleCreateCollab)
		r.Get("/sessions/{collabSessionId}", s.handleGetCollab)
		r.With(s.studentOnly).Post("/sessions/{collabSessionId}/tag", s.handleTag)
		r.With(s.studentOnly).Post("/sessions/{collabSessionId}/contribution", s.handleContribution)
		r.With(s.studentOnly).Post("/sessions/{collabSessionId}/leave", s.handleLeaveCollab)
		r.With(s.studentOnly).Post("/sessions/{collabSessionId}/messages", s.handleSendMessage)
		r.Get("/sessions/{collabSessionId}/messages", s.handleListMessages)

		r.With(s.studentOnly).Post("/invitations", s.handleSendInvitation)
		r.With(s.studentOnly).Post("/invitations/{invitationId}/respond", s.handleRespondInvitation)
		r.Get("/invitations/pending/{studentId}", s.handlePendingInvitations)

		r.Get("/conversations/{conversationId}/status", s.handleConversationStatus)

		r.With(s.teacherOnly).Post("/class-sessions", s.handleCreateClassSession)
		r.Get("/class-sessions/{sessionId}", s.handleGetClassSession)
		r.Get("/class-sessions/{sessionId}/status", s.handleClassSessionStatus)
		r.With(s.teacherOnly).Post("/class-sessions/{sessionId}/pause", s.handlePauseClassSession)
		r.With(s.teacherOnly).Post("/class-sessions/{sessionId}/resume", s.handleResumeClassSession)
		r.With(s.teacherOnly).Post("/class-sessions/{sessionId}/end", s.handleEndClassSession)
		r.With(s.teacherOnly).Post("/class-sessions/{sessionId}/reactivate", s.handleReactivateClassSession)
		r.With(s.teacherOnly).Post("/class-sessions/{sessionId}/topics", s.handleCreateTopic)
		r.Get("/class-sessions/{sessionId}/topics", s.handleListTopics)
	})

	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failing := []string{}
	for _, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", check.Name), zap.Error(err))
			failing = append(failing, check.Name)
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Auth

type claimsKey struct{}

// authMiddleware accepts a bearer token. Websocket upgrades may pass it as
// ?token= since browsers cannot set headers on them.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) studentOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || !claims.IsStudent() {
			writeError(w, http.StatusForbidden, "students_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) teacherOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || !(claims.IsTeacher() || claims.IsAdmin()) {
			writeError(w, http.StatusForbidden, "teachers_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerStudent resolves the student a request acts for. An empty body id
// means the caller; any other id must be the caller's own.
func callerStudent(claims *auth.Claims, bodyID string) (pgtype.UUID, *errs.Error) {
	bodyID = strings.TrimSpace(bodyID)
	if bodyID != "" && bodyID != claims.UserID {
		return pgtype.UUID{}, errs.Forbidden("forbidden", "cannot act for another student")
	}
	id, err := db.ParseUUID(claims.UserID)
	if err != nil {
		return pgtype.UUID{}, errs.Validation("invalid_student_id", "token subject is not a valid id")
	}
	return id, nil
}

// callerTeacher returns the teacher id for ownership checks. Admins get a
// zero id, which skips them.
func callerTeacher(claims *auth.Claims) (pgtype.UUID, *errs.Error) {
	if claims.IsAdmin() {
		return pgtype.UUID{}, nil
	}
	id, err := db.ParseUUID(claims.UserID)
	if err != nil {
		return pgtype.UUID{}, errs.Validation("invalid_teacher_id", "token subject is not a valid id")
	}
	return id, nil
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeAppError renders service errors. Guard rejections also carry the
// SESSION_* code clients switch on.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if reason, ok := lifecycle.BlockedReason(err); ok {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "session_not_interactive",
			"code":  string(reason),
		})
		return
	}
	var appErr *errs.Error
	if errors.As(err, &appErr) && appErr.Kind != errs.KindInternal {
		writeError(w, appErr.HTTPStatus(), appErr.Code)
		return
	}
	s.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "server_error")
}

func uuidParam(r *http.Request, name, code string) (pgtype.UUID, *errs.Error) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		return pgtype.UUID{}, errs.Validation("missing_"+code, name+" is required")
	}
	id, err := db.ParseUUID(value)
	if err != nil {
		return pgtype.UUID{}, errs.Validation("invalid_"+code, name+" is not a valid id")
	}
	return id, nil
}

func uuidField(value, code string) (pgtype.UUID, *errs.Error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return pgtype.UUID{}, errs.Validation("missing_"+code, code+" is required")
	}
	id, err := db.ParseUUID(value)
	if err != nil {
		return pgtype.UUID{}, errs.Validation("invalid_"+code, code+" is not a valid id")
	}
	return id, nil
}
