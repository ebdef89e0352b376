package http

import (
	"net/http"

	"go.uber.org/zap"

	"semaphore/liveclass/internal/auth"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/notify"
)

// handleWebsocket relays the requested event channels to the caller. Every
// channel must pass canSubscribe or the request is refused before upgrade.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "relay_unavailable")
		return
	}
	claims := claimsFromContext(r.Context())
	channels := r.URL.Query()["channel"]
	if len(channels) == 0 && claims.IsStudent() {
		channels = []string{notify.StudentChannel(claims.UserID)}
	}
	if len(channels) == 0 {
		writeError(w, http.StatusBadRequest, "missing_channel")
		return
	}
	for _, channel := range channels {
		if !s.canSubscribe(r, claims, channel) {
			writeError(w, http.StatusForbidden, "channel_forbidden")
			return
		}
	}
	if err := s.relay.Serve(w, r, channels); err != nil {
		s.logger.Warn("relay failed", zap.Strings("channels", channels), zap.Error(err))
		writeError(w, http.StatusBadGateway, "relay_unavailable")
	}
}

func (s *Server) canSubscribe(r *http.Request, claims *auth.Claims, channel string) bool {
	kind, rest, ok := notify.ParseChannel(channel)
	if !ok {
		return false
	}
	if claims.IsAdmin() {
		return true
	}
	switch kind {
	case notify.ChannelStudent:
		return claims.IsStudent() && rest[0] == claims.UserID
	case notify.ChannelSession, notify.ChannelTopic:
		return s.canReadSession(r, claims, rest[0])
	case notify.ChannelCollab:
		id, err := db.ParseUUID(rest[0])
		if err != nil {
			return false
		}
		details, err := s.collab.GetCollab(r.Context(), id)
		if err != nil {
			return false
		}
		if claims.IsStudent() {
			return details.HasParticipant(claims.UserID)
		}
		return s.canReadSession(r, claims, details.SessionID)
	}
	return false
}

// canReadSession admits students to any existing session and teachers to
// their own.
func (s *Server) canReadSession(r *http.Request, claims *auth.Claims, sessionID string) bool {
	id, err := db.ParseUUID(sessionID)
	if err != nil {
		return false
	}
	snap, err := s.lifecycle.Get(r.Context(), id)
	if err != nil {
		return false
	}
	if claims.IsTeacher() {
		return db.UUIDString(snap.Session.TeacherID) == claims.UserID
	}
	return claims.IsStudent()
}
