package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/metrics"
	"semaphore/liveclass/internal/notify"
)

// Add returns a copy of t with one more message from studentID.
func (t Tally) Add(studentID string, wordCount int, engagement float64) Tally {
	out := make(Tally, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	c := out[studentID]
	c.MessageCount++
	c.WordCount += wordCount
	c.EngagementSum += engagement
	out[studentID] = c
	return out
}

func (t Tally) TotalMessages() int {
	total := 0
	for _, c := range t {
		total += c.MessageCount
	}
	return total
}

// Imbalanced reports whether one participant holds more than threshold of
// all messages. Nothing is judged until the total exceeds minMessages.
func (t Tally) Imbalanced(minMessages int, threshold float64) bool {
	total := t.TotalMessages()
	if total <= minMessages {
		return false
	}
	top := 0
	for _, c := range t {
		if c.MessageCount > top {
			top = c.MessageCount
		}
	}
	return float64(top)/float64(total) > threshold
}

type ContributionResult struct {
	Success         bool  `json:"success"`
	Contributions   Tally `json:"contributions"`
	IsImbalanced    bool  `json:"isImbalanced"`
	BalanceWarnings int   `json:"balanceWarnings"`
	Warned
}

type balanceWarning struct {
	CollabSessionID string `json:"collabSessionId"`
	Contributions   Tally  `json:"contributions"`
	BalanceWarnings int    `json:"balanceWarnings"`
}

// RecordContribution adds one message to the student's tally and re-evaluates balance.
func (s *Service) RecordContribution(ctx context.Context, collabID, studentID pgtype.UUID, wordCount int, engagement float64) (ContributionResult, error) {
	if wordCount < 0 || engagement < 0 {
		return ContributionResult{}, ErrInvalidContribution
	}
	decision, err := s.guard.GuardCollab(ctx, collabID)
	if err != nil {
		return ContributionResult{}, err
	}
	var (
		collab  Collab
		crossed bool
	)
	err = s.store.WithTx(ctx, func(q db.Querier) error {
		var txErr error
		collab, crossed, txErr = s.recordTx(ctx, q, collabID, studentID, wordCount, engagement)
		return txErr
	})
	if err != nil {
		return ContributionResult{}, err
	}
	if crossed {
		s.announceImbalance(collab)
	}
	return ContributionResult{
		Success:         true,
		Contributions:   collab.Contributions,
		IsImbalanced:    collab.IsImbalanced,
		BalanceWarnings: collab.BalanceWarnings,
		Warned:          warned(decision),
	}, nil
}

// recordTx updates the tally under a row lock. crossed is true when the
// session just became imbalanced.
func (s *Service) recordTx(ctx context.Context, q db.Querier, collabID, studentID pgtype.UUID, wordCount int, engagement float64) (Collab, bool, error) {
	row, err := q.GetCollabSessionForUpdate(ctx, collabID)
	if err != nil {
		return Collab{}, false, notFound(err, ErrCollabNotFound)
	}
	if !containsID(row.ParticipantIds, studentID) {
		return Collab{}, false, ErrNotAParticipant
	}
	if row.Status != db.CollabStatusActive {
		return Collab{}, false, ErrCollabNotActive
	}
	tally, err := decodeTally(row.Contributions)
	if err != nil {
		return Collab{}, false, err
	}
	tally = tally.Add(db.UUIDString(studentID), wordCount, engagement)
	imbalanced := tally.Imbalanced(s.cfg.MinMessagesForBalance, s.cfg.ImbalanceThreshold)
	crossed := imbalanced && !row.IsImbalanced
	warnings := row.BalanceWarnings
	if crossed {
		warnings++
	}
	raw, err := json.Marshal(tally)
	if err != nil {
		return Collab{}, false, err
	}
	updated, err := q.UpdateCollabContributions(ctx, db.UpdateCollabContributionsParams{
		ID:              collabID,
		Contributions:   raw,
		IsImbalanced:    imbalanced,
		BalanceWarnings: warnings,
		UpdatedAt:       db.Time(s.now()),
	})
	if err != nil {
		return Collab{}, false, fmt.Errorf("update contributions: %w", err)
	}
	collab, err := collabFromRow(updated)
	return collab, crossed, err
}

func (s *Service) announceImbalance(collab Collab) {
	metrics.ImbalanceWarnings.Inc()
	s.notifier.Notify(notify.CollabChannel(collab.ID), notify.NewEvent(notify.EventBalanceWarning, balanceWarning{
		CollabSessionID: collab.ID,
		Contributions:   collab.Contributions,
		BalanceWarnings: collab.BalanceWarnings,
	}, s.now()))
}
