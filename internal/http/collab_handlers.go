package http

import (
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/liveclass/internal/collab"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/errs"
)

// Waiting room

type joinWaitingRoomRequest struct {
	SessionID     string `json:"sessionId"`
	TopicID       string `json:"topicId"`
	StudentID     string `json:"studentId"`
	StudentName   string `json:"studentName"`
	PreferredMode string `json:"preferredMode"`
}

func (s *Server) handleJoinWaitingRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req joinWaitingRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	studentID, appErr := callerStudent(claims, req.StudentID)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	sessionID, appErr := uuidField(req.SessionID, "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	topicID, appErr := uuidField(req.TopicID, "topic_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	name := strings.TrimSpace(req.StudentName)
	if name == "" {
		name = claims.Name
	}

	result, err := s.collab.TryMatch(r.Context(), collab.JoinRequest{
		SessionID:     sessionID,
		TopicID:       topicID,
		StudentID:     studentID,
		StudentName:   name,
		PreferredMode: req.PreferredMode,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type leaveWaitingRoomRequest struct {
	SessionID string `json:"sessionId"`
	TopicID   string `json:"topicId"`
	StudentID string `json:"studentId"`
}

func (s *Server) handleLeaveWaitingRoom(w http.ResponseWriter, r *http.Request) {
	var req leaveWaitingRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	studentID, appErr := callerStudent(claimsFromContext(r.Context()), req.StudentID)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	sessionID, appErr := uuidField(req.SessionID, "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	topicID, appErr := uuidField(req.TopicID, "topic_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	if err := s.collab.LeaveWaitingRoom(r.Context(), sessionID, topicID, studentID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAvailablePartners(w http.ResponseWriter, r *http.Request) {
	sessionID, appErr := uuidParam(r, "sessionId", "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	topicID, appErr := uuidParam(r, "topicId", "topic_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	var exclude pgtype.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("excludeStudentId")); raw != "" {
		parsed, err := db.ParseUUID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_exclude_student_id")
			return
		}
		exclude = parsed
	} else if claims := claimsFromContext(r.Context()); claims.IsStudent() {
		exclude, _ = db.ParseUUID(claims.UserID)
	}

	result, err := s.collab.ListAvailablePartners(r.Context(), sessionID, topicID, exclude)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Collaborative sessions

type createCollabRequest struct {
	ConversationID   string   `json:"conversationId"`
	SessionID        string   `json:"sessionId"`
	Mode             string   `json:"mode"`
	ParticipantIDs   []string `json:"participantIds"`
	ParticipantNames []string `json:"participantNames"`
}

func (s *Server) handleCreateCollab(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req createCollabRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	conversationID, appErr := uuidField(req.ConversationID, "conversation_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	sessionID, appErr := uuidField(req.SessionID, "session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	participants := make([]collab.Participant, 0, len(req.ParticipantIDs))
	callerIncluded := false
	for i, raw := range req.ParticipantIDs {
		id, appErr := uuidField(raw, "participant_id")
		if appErr != nil {
			s.writeAppError(w, r, appErr)
			return
		}
		name := "Student"
		if i < len(req.ParticipantNames) && strings.TrimSpace(req.ParticipantNames[i]) != "" {
			name = strings.TrimSpace(req.ParticipantNames[i])
		}
		studentID := db.UUIDString(id)
		if studentID == claims.UserID {
			callerIncluded = true
		}
		participants = append(participants, collab.Participant{StudentID: studentID, Name: name})
	}
	if len(participants) > 0 && !callerIncluded {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}

	view, err := s.collab.CreateCollab(r.Context(), collab.CreateRequest{
		ConversationID: conversationID,
		SessionID:      sessionID,
		Mode:           req.Mode,
		Participants:   participants,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetCollab(w http.ResponseWriter, r *http.Request) {
	collabID, appErr := uuidParam(r, "collabSessionId", "collab_session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	details, err := s.collab.GetCollab(r.Context(), collabID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !s.canReadCollab(r, details.Collab) {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type tagRequest struct {
	FromStudentID string `json:"fromStudentId"`
	ToStudentID   string `json:"toStudentId"`
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	collabID, appErr := uuidParam(r, "collabSessionId", "collab_session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	var req tagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	from, appErr := uuidField(req.FromStudentID, "from_student_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	to, appErr := uuidField(req.ToStudentID, "to_student_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	// Passing someone else's turn is a turn violation, not an identity error.
	if db.UUIDString(from) != claims.UserID {
		s.writeAppError(w, r, collab.ErrNotYourTurn)
		return
	}

	result, err := s.collab.Tag(r.Context(), collabID, from, to)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type contributionRequest struct {
	StudentID     string  `json:"studentId"`
	WordCount     int     `json:"wordCount"`
	AnalysisScore float64 `json:"analysisScore"`
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	collabID, appErr := uuidParam(r, "collabSessionId", "collab_session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	var req contributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	studentID, appErr := callerStudent(claimsFromContext(r.Context()), req.StudentID)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	result, err := s.collab.RecordContribution(r.Context(), collabID, studentID, req.WordCount, req.AnalysisScore)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type leaveCollabRequest struct {
	StudentID string `json:"studentId"`
}

func (s *Server) handleLeaveCollab(w http.ResponseWriter, r *http.Request) {
	collabID, appErr := uuidParam(r, "collabSessionId", "collab_session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	var req leaveCollabRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}
	}
	studentID, appErr := callerStudent(claimsFromContext(r.Context()), req.StudentID)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	result, err := s.collab.LeaveCollab(r.Context(), collabID, studentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sendMessageRequest struct {
	StudentID     string  `json:"studentId"`
	Content       string  `json:"content"`
	AnalysisScore float64 `json:"analysisScore"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	collabID, appErr := uuidParam(r, "collabSessionId", "collab_session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	studentID, appErr := callerStudent(claimsFromContext(r.Context()), req.StudentID)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	result, err := s.collab.SendMessage(r.Context(), collabID, studentID, req.Content, req.AnalysisScore)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	collabID, appErr := uuidParam(r, "collabSessionId", "collab_session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	details, err := s.collab.GetCollab(r.Context(), collabID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !s.canReadCollab(r, details.Collab) {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}
	messages, err := s.collab.Messages(r.Context(), collabID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// canReadCollab lets participants, teachers and admins read a collaboration.
func (s *Server) canReadCollab(r *http.Request, c collab.Collab) bool {
	claims := claimsFromContext(r.Context())
	if claims.IsStudent() {
		return c.HasParticipant(claims.UserID)
	}
	return claims.IsTeacher() || claims.IsAdmin()
}

// Invitations

type sendInvitationRequest struct {
	CollabSessionID string `json:"collabSessionId"`
	FromStudentID   string `json:"fromStudentId"`
	ToStudentID     string `json:"toStudentId"`
	Message         string `json:"message"`
}

func (s *Server) handleSendInvitation(w http.ResponseWriter, r *http.Request) {
	var req sendInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	from, appErr := callerStudent(claimsFromContext(r.Context()), req.FromStudentID)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	collabID, appErr := uuidField(req.CollabSessionID, "collab_session_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	to, appErr := uuidField(req.ToStudentID, "to_student_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	result, err := s.collab.SendInvitation(r.Context(), collab.InviteRequest{
		CollabSessionID: collabID,
		FromStudentID:   from,
		ToStudentID:     to,
		Message:         req.Message,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type respondInvitationRequest struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	Accept      *bool  `json:"accept"`
}

func (s *Server) handleRespondInvitation(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	invitationID, appErr := uuidParam(r, "invitationId", "invitation_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	var req respondInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Accept == nil {
		s.writeAppError(w, r, errs.Validation("missing_accept", "accept is required"))
		return
	}
	responder, appErr := callerStudent(claims, req.StudentID)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	name := strings.TrimSpace(req.StudentName)
	if name == "" {
		name = claims.Name
	}
	result, err := s.collab.RespondInvitation(r.Context(), collab.RespondRequest{
		InvitationID:  invitationID,
		ResponderID:   responder,
		ResponderName: name,
		Accept:        *req.Accept,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePendingInvitations(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	studentID, appErr := uuidParam(r, "studentId", "student_id")
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	if claims.IsStudent() && db.UUIDString(studentID) != claims.UserID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	invitations, err := s.collab.PendingInvitations(r.Context(), studentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}
