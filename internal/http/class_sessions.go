package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/lifecycle"
)

type instanceResponse struct {
	ID        string     `json:"id"`
	Number    int32      `json:"number"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

type classSessionResponse struct {
	ID                string             `json:"id"`
	TeacherID         string             `json:"teacherId"`
	Title             string             `json:"title"`
	Status            string             `json:"status"`
	PausedAt          *time.Time         `json:"pausedAt,omitempty"`
	EndedAt           *time.Time         `json:"endedAt,omitempty"`
	GracePeriodEndsAt *time.Time         `json:"gracePeriodEndsAt,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	Instance          *instanceResponse  `json:"currentInstance,omitempty"`
	CanInteract       bool               `json:"canInteract"`
	Warning           *lifecycle.Warning `json:"warning,omitempty"`
}

func mapSnapshot(snap lifecycle.Snapshot) classSessionResponse {
	session := snap.Session
	resp := classSessionResponse{
		ID:                db.UUIDString(session.ID),
		TeacherID:         db.UUIDString(session.TeacherID),
		Title:             session.Title,
		Status:            string(session.Status),
		PausedAt:          db.TimePtr(session.PausedAt),
		EndedAt:           db.TimePtr(session.EndedAt),
		GracePeriodEndsAt: db.TimePtr(session.GracePeriodEndsAt),
		CreatedAt:         session.CreatedAt.Time.UTC(),
		UpdatedAt:         session.UpdatedAt.Time.UTC(),
		CanInteract:       snap.Decision.Allowed(),
		Warning:           snap.Decision.Warning(),
	}
	if snap.Instance.ID.Valid {
		resp.Instance = &instanceResponse{
			ID:        db.UUIDString(snap.Instance.ID),
			Number:    snap.Instance.InstanceNumber,
			StartedAt: snap.Instance.StartedAt.Time.UTC(),
			EndedAt:   db.TimePtr(snap.Instance.EndedAt),
		}
	}
	return resp
}

type statusResponse struct {
	Status      string             `json:"status"`
	Outcome     string             `json:"outcome"`
	CanInteract bool               `json:"canInteract"`
	Code        string             `json:"code,omitempty"`
	GraceEndsAt *time.Time         `json:"graceEndsAt,omitempty"`
	Warning     *lifecycle.Warning `json:"warning,omitempty"`
}

func mapDecision(d lifecycle.Decision) statusResponse {
	resp := statusResponse{
		Status:      string(d.Status),
		Outcome:     d.Outcome.String(),
		CanInteract: d.Allowed(),
		Code:        string(d.Reason),
		Warning:     d.Warning(),
	}
	if !d.GraceEndsAt.IsZero() {
		graceEndsAt := d.GraceEndsAt.UTC()
		resp.GraceEndsAt = &graceEndsAt
	}
	return resp
}

type createClassSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateClassSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !claims.IsTeacher() {
		writeError(w, http.StatusForbidden, "teachers_only")
		return
	}
	var req createClassSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	teacherID, appErr := callerTeacher(claims)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	snap, err := s.lifecycle.Create(r.Context(), teacherID, req.Title)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapSnapshot(snap))
}

func (s *Server) handleGetClassSession(w http.ResponseWriter, r *http.Request) {
	sessionID, appErr := uuidParam(r, "sessionId", "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	snap, err := s.lifecycle.Get(r.Context(), sessionID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSnapshot(snap))
}

func (s *Server) handleClassSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, appErr := uuidParam(r, "sessionId", "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	s.writeGuardStatus(w, r, func(ctx context.Context) (lifecycle.Decision, error) {
		return s.lifecycle.Guard(ctx, sessionID)
	})
}

func (s *Server) handleConversationStatus(w http.ResponseWriter, r *http.Request) {
	conversationID, appErr := uuidParam(r, "conversationId", "conversation_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	s.writeGuardStatus(w, r, func(ctx context.Context) (lifecycle.Decision, error) {
		return s.lifecycle.GuardConversation(ctx, conversationID)
	})
}

// writeGuardStatus reports the verdict itself, so a blocked session is a
// successful read here.
func (s *Server) writeGuardStatus(w http.ResponseWriter, r *http.Request, guard func(context.Context) (lifecycle.Decision, error)) {
	decision, err := guard(r.Context())
	if err != nil {
		if _, blocked := lifecycle.BlockedReason(err); !blocked {
			s.writeAppError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, mapDecision(decision))
}

type transitionFunc func(ctx context.Context, sessionID, teacherID pgtype.UUID) (lifecycle.Snapshot, error)

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, transition transitionFunc) {
	sessionID, appErr := uuidParam(r, "sessionId", "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	teacherID, appErr := callerTeacher(claimsFromContext(r.Context()))
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	snap, err := transition(r.Context(), sessionID, teacherID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSnapshot(snap))
}

func (s *Server) handlePauseClassSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.lifecycle.Pause)
}

func (s *Server) handleResumeClassSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.lifecycle.Resume)
}

func (s *Server) handleEndClassSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.lifecycle.End)
}

func (s *Server) handleReactivateClassSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.lifecycle.Reactivate)
}

type topicResponse struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func mapTopic(topic db.Topic) topicResponse {
	return topicResponse{
		ID:          db.UUIDString(topic.ID),
		SessionID:   db.UUIDString(topic.SessionID),
		Title:       topic.Title,
		Description: topic.Description,
		CreatedAt:   topic.CreatedAt.Time.UTC(),
	}
}

type createTopicRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	sessionID, appErr := uuidParam(r, "sessionId", "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	teacherID, appErr := callerTeacher(claimsFromContext(r.Context()))
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	var req createTopicRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	topic, err := s.lifecycle.CreateTopic(r.Context(), sessionID, teacherID, req.Title, req.Description)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapTopic(topic))
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	sessionID, appErr := uuidParam(r, "sessionId", "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	topics, err := s.lifecycle.ListTopics(r.Context(), sessionID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]topicResponse, 0, len(topics))
	for _, topic := range topics {
		out = append(out, mapTopic(topic))
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": out})
}
