package collab

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/db"
)

type AvailablePartners struct {
	Partners []WaitingEntry `json:"availablePartners"`
	Warned
}

// ListAvailablePartners returns unexpired waiting students on a topic, oldest first.
func (s *Service) ListAvailablePartners(ctx context.Context, sessionID, topicID, excludeStudentID pgtype.UUID) (AvailablePartners, error) {
	decision, err := s.guard.Guard(ctx, sessionID)
	if err != nil {
		return AvailablePartners{}, err
	}
	if _, err := s.sessionTopic(ctx, sessionID, topicID); err != nil {
		return AvailablePartners{}, err
	}
	rows, err := s.store.Querier().ListWaitingPartners(ctx, db.ListWaitingPartnersParams{
		SessionID:        sessionID,
		TopicID:          topicID,
		ExcludeStudentID: excludeStudentID,
		Now:              db.Time(s.now()),
		Limit:            int32(s.cfg.AvailablePartnersLimit),
	})
	if err != nil {
		return AvailablePartners{}, err
	}
	partners := make([]WaitingEntry, 0, len(rows))
	for _, row := range rows {
		partners = append(partners, waitingFromRow(row))
	}
	return AvailablePartners{Partners: partners, Warned: warned(decision)}, nil
}

// LeaveWaitingRoom cancels the student's waiting entry. Leaving twice, or
// after being matched, is a no-op.
func (s *Service) LeaveWaitingRoom(ctx context.Context, sessionID, topicID, studentID pgtype.UUID) error {
	n, err := s.store.Querier().CancelWaitingEntry(ctx, db.CancelWaitingEntryParams{
		SessionID: sessionID,
		TopicID:   topicID,
		StudentID: studentID,
		UpdatedAt: db.Time(s.now()),
	})
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("left waiting room",
			zap.String("session_id", db.UUIDString(sessionID)),
			zap.String("student_id", db.UUIDString(studentID)))
	}
	return nil
}

// ExpireWaitingEntries cancels entries whose expiry has passed. Expired rows
// are already invisible to matching; this only keeps the table tidy.
func (s *Service) ExpireWaitingEntries(ctx context.Context) (int64, error) {
	return s.store.Querier().CancelExpiredWaitingEntries(ctx, db.Time(s.now()))
}
