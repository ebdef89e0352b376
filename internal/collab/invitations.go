package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/notify"
)

type InviteRequest struct {
	CollabSessionID pgtype.UUID
	FromStudentID   pgtype.UUID
	ToStudentID     pgtype.UUID
	Message         string
}

type InvitationResult struct {
	Invitation Invitation `json:"invitation"`
	Warned
}

// SendInvitation invites a student into an active collaborative session. A
// newer invitation to the same student replaces the pending one.
func (s *Service) SendInvitation(ctx context.Context, req InviteRequest) (InvitationResult, error) {
	if req.FromStudentID == req.ToStudentID {
		return InvitationResult{}, ErrSelfInvitation
	}
	decision, err := s.guard.GuardCollab(ctx, req.CollabSessionID)
	if err != nil {
		return InvitationResult{}, err
	}
	q := s.store.Querier()
	row, err := q.GetCollabSession(ctx, req.CollabSessionID)
	if err != nil {
		return InvitationResult{}, notFound(err, ErrCollabNotFound)
	}
	if row.Status != db.CollabStatusActive {
		return InvitationResult{}, ErrCollabNotActive
	}
	if !containsID(row.ParticipantIds, req.FromStudentID) {
		return InvitationResult{}, ErrNotAParticipant
	}
	if containsID(row.ParticipantIds, req.ToStudentID) {
		return InvitationResult{}, ErrAlreadyParticipant
	}
	names, err := decodeNames(row.ParticipantNames)
	if err != nil {
		return InvitationResult{}, err
	}

	now := s.now()
	stored, err := q.UpsertInvitation(ctx, db.UpsertInvitationParams{
		ID:              db.NewID(),
		CollabSessionID: req.CollabSessionID,
		FromStudentID:   req.FromStudentID,
		FromStudentName: names[db.UUIDString(req.FromStudentID)],
		ToStudentID:     req.ToStudentID,
		Message:         strings.TrimSpace(req.Message),
		CreatedAt:       db.Time(now),
		ExpiresAt:       db.Time(now.Add(s.cfg.InvitationTTL)),
	})
	if err != nil {
		return InvitationResult{}, fmt.Errorf("upsert invitation: %w", err)
	}
	invitation := invitationFromRow(stored)
	s.notifier.Notify(notify.StudentChannel(invitation.ToStudentID), notify.NewEvent(notify.EventInvitation, invitation, now))
	return InvitationResult{Invitation: invitation, Warned: warned(decision)}, nil
}

type RespondRequest struct {
	InvitationID  pgtype.UUID
	ResponderID   pgtype.UUID
	ResponderName string
	Accept        bool
}

type RespondResult struct {
	Invitation Invitation `json:"invitation"`
	Collab     *Collab    `json:"collabSession,omitempty"`
	Warned
}

// RespondInvitation accepts or declines a pending, unexpired invitation.
// Accepting adds the responder to the collaborative session.
func (s *Service) RespondInvitation(ctx context.Context, req RespondRequest) (RespondResult, error) {
	current, err := s.store.Querier().GetInvitation(ctx, req.InvitationID)
	if err != nil {
		return RespondResult{}, notFound(err, ErrInvitationNotFound)
	}
	if current.ToStudentID != req.ResponderID {
		return RespondResult{}, ErrNotInvitationTarget
	}
	decision, err := s.guard.GuardCollab(ctx, current.CollabSessionID)
	if err != nil {
		return RespondResult{}, err
	}

	status := db.InvitationStatusDeclined
	if req.Accept {
		status = db.InvitationStatusAccepted
	}
	var result RespondResult
	err = s.store.WithTx(ctx, func(q db.Querier) error {
		now := db.Time(s.now())
		answered, err := q.RespondInvitation(ctx, db.RespondInvitationParams{
			ID:          req.InvitationID,
			Status:      status,
			RespondedAt: now,
		})
		if db.IsNoRows(err) {
			return staleInvitation(ctx, q, req.InvitationID)
		}
		if err != nil {
			return fmt.Errorf("respond invitation: %w", err)
		}
		result.Invitation = invitationFromRow(answered)
		if !req.Accept {
			return nil
		}
		collab, err := s.admit(ctx, q, answered.CollabSessionID, req.ResponderID, req.ResponderName, now)
		if err != nil {
			return err
		}
		result.Collab = &collab
		return nil
	})
	if err != nil {
		return RespondResult{}, err
	}
	result.Warned = warned(decision)

	now := s.now()
	s.notifier.Notify(notify.StudentChannel(result.Invitation.FromStudentID),
		notify.NewEvent(notify.EventInvitationResponse, result.Invitation, now))
	if result.Collab != nil {
		s.logger.Info("invitation accepted",
			zap.String("collab_session_id", result.Collab.ID),
			zap.String("student_id", result.Invitation.ToStudentID))
	}
	return result, nil
}

// admit appends a participant to an active session. Existing participants are left as is.
func (s *Service) admit(ctx context.Context, q db.Querier, collabID, studentID pgtype.UUID, name string, now pgtype.Timestamptz) (Collab, error) {
	row, err := q.GetCollabSessionForUpdate(ctx, collabID)
	if err != nil {
		return Collab{}, notFound(err, ErrCollabNotFound)
	}
	if row.Status != db.CollabStatusActive {
		return Collab{}, ErrCollabNotActive
	}
	collab, err := collabFromRow(row)
	if err != nil {
		return Collab{}, err
	}
	sid := db.UUIDString(studentID)
	if collab.HasParticipant(sid) {
		return collab, nil
	}
	if name = strings.TrimSpace(name); name == "" {
		name = "Student"
	}
	participants := append(collab.Participants, Participant{StudentID: sid, Name: name})
	names, err := encodeNames(participants)
	if err != nil {
		return Collab{}, err
	}
	updated, err := q.UpdateCollabParticipants(ctx, db.UpdateCollabParticipantsParams{
		ID:                   collabID,
		ParticipantIds:       append(append([]pgtype.UUID(nil), row.ParticipantIds...), studentID),
		ParticipantNames:     names,
		CurrentTurnStudentID: row.CurrentTurnStudentID,
		Status:               db.CollabStatusActive,
		EndedAt:              row.EndedAt,
		UpdatedAt:            now,
	})
	if err != nil {
		return Collab{}, fmt.Errorf("add participant: %w", err)
	}
	return collabFromRow(updated)
}

func staleInvitation(ctx context.Context, q db.Querier, id pgtype.UUID) error {
	row, err := q.GetInvitation(ctx, id)
	if err != nil {
		return notFound(err, ErrInvitationNotFound)
	}
	if row.Status != db.InvitationStatusPending {
		return ErrInvitationAnswered
	}
	return ErrInvitationExpired
}

// PendingInvitations lists unexpired invitations waiting for the student's answer.
func (s *Service) PendingInvitations(ctx context.Context, studentID pgtype.UUID) ([]Invitation, error) {
	rows, err := s.store.Querier().ListPendingInvitations(ctx, db.ListPendingInvitationsParams{
		ToStudentID: studentID,
		Now:         db.Time(s.now()),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Invitation, 0, len(rows))
	for _, row := range rows {
		out = append(out, invitationFromRow(row))
	}
	return out, nil
}
