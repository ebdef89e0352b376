package collab

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/metrics"
	"semaphore/liveclass/internal/notify"
)

type TagResult struct {
	Success     bool   `json:"success"`
	CurrentTurn string `json:"currentTurn"`
	TurnCount   int    `json:"turnCount"`
	Warned
}

type turnChanged struct {
	CollabSessionID string `json:"collabSessionId"`
	From            string `json:"fromStudentId"`
	To              string `json:"toStudentId"`
	ToName          string `json:"toStudentName"`
	TurnCount       int    `json:"turnCount"`
}

// Tag passes the turn from the current holder to another participant.
func (s *Service) Tag(ctx context.Context, collabID, fromStudentID, toStudentID pgtype.UUID) (TagResult, error) {
	decision, err := s.guard.GuardCollab(ctx, collabID)
	if err != nil {
		return TagResult{}, err
	}

	var collab Collab
	err = s.store.WithTx(ctx, func(q db.Querier) error {
		row, err := q.GetCollabSessionForUpdate(ctx, collabID)
		if err != nil {
			return notFound(err, ErrCollabNotFound)
		}
		if err := checkTag(row, fromStudentID, toStudentID); err != nil {
			return err
		}
		row, err = q.PassCollabTurn(ctx, db.PassCollabTurnParams{
			ID:            collabID,
			FromStudentID: fromStudentID,
			ToStudentID:   toStudentID,
			UpdatedAt:     db.Time(s.now()),
		})
		if db.IsNoRows(err) {
			return ErrNotYourTurn
		}
		if err != nil {
			return fmt.Errorf("pass turn: %w", err)
		}
		collab, err = collabFromRow(row)
		return err
	})
	if err != nil {
		metrics.TurnPasses.WithLabelValues("rejected").Inc()
		return TagResult{}, err
	}
	metrics.TurnPasses.WithLabelValues("ok").Inc()

	s.notifier.Notify(notify.CollabChannel(collab.ID), notify.NewEvent(notify.EventTurnChanged, turnChanged{
		CollabSessionID: collab.ID,
		From:            db.UUIDString(fromStudentID),
		To:              collab.CurrentTurn,
		ToName:          collab.NameOf(collab.CurrentTurn),
		TurnCount:       collab.TurnCount,
	}, s.now()))

	return TagResult{Success: true, CurrentTurn: collab.CurrentTurn, TurnCount: collab.TurnCount, Warned: warned(decision)}, nil
}

func checkTag(row db.CollaborativeSession, from, to pgtype.UUID) error {
	if row.CurrentTurnStudentID != from {
		return ErrNotYourTurn
	}
	if !containsID(row.ParticipantIds, to) {
		return ErrNotAParticipant
	}
	if row.Status != db.CollabStatusActive {
		return ErrCollabNotActive
	}
	return nil
}

type LeaveResult struct {
	Success   bool   `json:"success"`
	Abandoned bool   `json:"abandoned"`
	Collab    Collab `json:"collabSession"`
}

type partnerLeft struct {
	CollabSessionID string   `json:"collabSessionId"`
	StudentID       string   `json:"studentId"`
	StudentName     string   `json:"studentName"`
	Remaining       []string `json:"remainingParticipants"`
	Abandoned       bool     `json:"abandoned"`
	CurrentTurn     string   `json:"currentTurn,omitempty"`
}

// LeaveCollab removes a participant and releases their waiting-room match.
// Fewer than two remaining participants abandon the session and return the
// conversation to solo mode.
func (s *Service) LeaveCollab(ctx context.Context, collabID, studentID pgtype.UUID) (LeaveResult, error) {
	var (
		result    LeaveResult
		leaver    Participant
		unchanged bool
	)
	err := s.store.WithTx(ctx, func(q db.Querier) error {
		row, err := q.GetCollabSessionForUpdate(ctx, collabID)
		if err != nil {
			return notFound(err, ErrCollabNotFound)
		}
		collab, err := collabFromRow(row)
		if err != nil {
			return err
		}
		sid := db.UUIDString(studentID)
		if !collab.HasParticipant(sid) {
			return ErrNotAParticipant
		}
		if row.Status != db.CollabStatusActive {
			unchanged = true
			result = LeaveResult{Success: true, Abandoned: row.Status == db.CollabStatusAbandoned, Collab: collab}
			return nil
		}
		leaver = Participant{StudentID: sid, Name: collab.NameOf(sid)}

		remaining := withoutParticipant(collab.Participants, sid)
		now := s.now()
		params := db.UpdateCollabParticipantsParams{
			ID:                   collabID,
			CurrentTurnStudentID: row.CurrentTurnStudentID,
			Status:               db.CollabStatusActive,
			UpdatedAt:            db.Time(now),
		}
		if params.ParticipantIds, err = participantUUIDs(remaining); err != nil {
			return err
		}
		if params.ParticipantNames, err = encodeNames(remaining); err != nil {
			return err
		}

		abandoned := len(remaining) < 2
		if abandoned {
			params.Status = db.CollabStatusAbandoned
			params.CurrentTurnStudentID = pgtype.UUID{}
			params.EndedAt = db.Time(now)
		} else if row.CurrentTurnStudentID == studentID {
			next, err := db.ParseUUID(nextInTurn(collab.Participants, sid))
			if err != nil {
				return err
			}
			params.CurrentTurnStudentID = next
		}

		updated, err := q.UpdateCollabParticipants(ctx, params)
		if err != nil {
			return fmt.Errorf("update participants: %w", err)
		}
		if abandoned {
			err = q.SetConversationCollab(ctx, db.SetConversationCollabParams{
				ID:              row.ConversationID,
				IsCollaborative: false,
				CollabSessionID: pgtype.UUID{},
				UpdatedAt:       db.Time(now),
			})
			if err != nil {
				return fmt.Errorf("demote conversation: %w", err)
			}
			_, err = q.ReleaseWaitingEntriesForCollab(ctx, db.ReleaseWaitingEntriesForCollabParams{
				CollabSessionID: collabID,
				UpdatedAt:       db.Time(now),
			})
			if err != nil {
				return fmt.Errorf("release waiting entries: %w", err)
			}
		} else {
			_, err = q.ReleaseStudentWaitingEntry(ctx, db.ReleaseStudentWaitingEntryParams{
				CollabSessionID: collabID,
				StudentID:       studentID,
				UpdatedAt:       db.Time(now),
			})
			if err != nil {
				return fmt.Errorf("release waiting entry: %w", err)
			}
		}
		collab, err = collabFromRow(updated)
		if err != nil {
			return err
		}
		result = LeaveResult{Success: true, Abandoned: abandoned, Collab: collab}
		return nil
	})
	if err != nil {
		return LeaveResult{}, err
	}
	if unchanged {
		return result, nil
	}

	s.logger.Info("participant left collaborative session",
		zap.String("collab_session_id", result.Collab.ID),
		zap.String("student_id", leaver.StudentID),
		zap.Bool("abandoned", result.Abandoned))

	event := notify.NewEvent(notify.EventPartnerLeft, partnerLeft{
		CollabSessionID: result.Collab.ID,
		StudentID:       leaver.StudentID,
		StudentName:     leaver.Name,
		Remaining:       result.Collab.ParticipantIDs(),
		Abandoned:       result.Abandoned,
		CurrentTurn:     result.Collab.CurrentTurn,
	}, s.now())
	s.notifier.Notify(notify.CollabChannel(result.Collab.ID), event)
	for _, p := range result.Collab.Participants {
		s.notifier.Notify(notify.StudentChannel(p.StudentID), event)
	}
	return result, nil
}

func withoutParticipant(participants []Participant, studentID string) []Participant {
	out := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.StudentID != studentID {
			out = append(out, p)
		}
	}
	return out
}

// nextInTurn returns the participant after studentID in turn order, wrapping around.
func nextInTurn(participants []Participant, studentID string) string {
	for i, p := range participants {
		if p.StudentID == studentID {
			return participants[(i+1)%len(participants)].StudentID
		}
	}
	return ""
}
