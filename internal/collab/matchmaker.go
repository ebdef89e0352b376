package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/lifecycle"
	"semaphore/liveclass/internal/metrics"
	"semaphore/liveclass/internal/notify"
	"semaphore/liveclass/internal/tutor"
)

type JoinRequest struct {
	SessionID     pgtype.UUID
	TopicID       pgtype.UUID
	StudentID     pgtype.UUID
	StudentName   string
	PreferredMode string
}

type MatchResult struct {
	Matched         bool         `json:"matched"`
	WaitingRoomID   string       `json:"waitingRoomId,omitempty"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	CollabSessionID string       `json:"collabSessionId,omitempty"`
	ConversationID  string       `json:"conversationId,omitempty"`
	Partner         *Participant `json:"partner,omitempty"`
	IsInitiator     bool         `json:"isInitiator"`
	CurrentTurn     string       `json:"currentTurn,omitempty"`
	Warned
}

type matchOutcome int

const (
	outcomeWaiting matchOutcome = iota
	outcomeMatched
	outcomeExisting
)

func (o matchOutcome) String() string {
	switch o {
	case outcomeMatched:
		return "matched"
	case outcomeExisting:
		return "existing"
	default:
		return "waiting"
	}
}

type matchState struct {
	outcome matchOutcome
	entry   db.WaitingRoomEntry
	partner db.WaitingRoomEntry
	collab  Collab
	topic   db.Topic
}

// TryMatch puts the caller in the waiting room and pairs them with the
// longest-waiting student on the same topic, if any.
func (s *Service) TryMatch(ctx context.Context, req JoinRequest) (MatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "collab.TryMatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", db.UUIDString(req.SessionID)),
		attribute.String("topic_id", db.UUIDString(req.TopicID)),
	)

	if req.StudentName == "" {
		req.StudentName = "Student"
	}
	if req.PreferredMode == "" {
		req.PreferredMode = DefaultMode
	}

	decision, err := s.guard.Guard(ctx, req.SessionID)
	if err != nil {
		return MatchResult{}, err
	}
	topic, err := s.sessionTopic(ctx, req.SessionID, req.TopicID)
	if err != nil {
		return MatchResult{}, err
	}

	var state matchState
	retried, err := retryOnUnique(func() error {
		return s.store.WithTx(ctx, func(q db.Querier) error {
			var txErr error
			state, txErr = s.matchTx(ctx, q, req)
			return txErr
		})
	})
	if retried {
		metrics.MatchRetries.Inc()
	}
	if db.IsUniqueViolation(err) {
		// Lost the race twice: leave the caller waiting for the next joiner.
		s.logger.Warn("matchmaking race lost, leaving student waiting",
			zap.String("session_id", db.UUIDString(req.SessionID)),
			zap.String("student_id", db.UUIDString(req.StudentID)),
			zap.Error(err))
		state, err = s.enqueue(ctx, req)
	}
	if err != nil {
		return MatchResult{}, err
	}
	state.topic = topic
	metrics.MatchAttempts.WithLabelValues(state.outcome.String()).Inc()
	span.SetAttributes(attribute.String("outcome", state.outcome.String()))

	switch state.outcome {
	case outcomeWaiting:
		s.announceWaiting(state.entry)
		expires := state.entry.ExpiresAt.Time.UTC()
		return MatchResult{
			WaitingRoomID: db.UUIDString(state.entry.ID),
			ExpiresAt:     &expires,
			Warned:        warned(decision),
		}, nil
	case outcomeMatched:
		s.openConversation(ctx, state)
		s.announceMatch(state)
	}
	return matchResultFor(state.collab, db.UUIDString(req.StudentID), decision), nil
}

func (s *Service) matchTx(ctx context.Context, q db.Querier, req JoinRequest) (matchState, error) {
	now := s.now()
	lockKey := db.UUIDString(req.SessionID) + ":" + db.UUIDString(req.TopicID)
	if err := q.AcquireMatchLock(ctx, lockKey); err != nil {
		return matchState{}, fmt.Errorf("acquire match lock: %w", err)
	}

	entry, err := s.upsertEntry(ctx, q, req, now)
	if db.IsNoRows(err) {
		existing, done, lookupErr := s.existingMatch(ctx, q, req, now)
		if lookupErr != nil {
			return matchState{}, lookupErr
		}
		if done {
			return existing, nil
		}
		entry, err = s.upsertEntry(ctx, q, req, now)
	}
	if err != nil {
		return matchState{}, fmt.Errorf("upsert waiting entry: %w", err)
	}

	partner, err := q.FindWaitingPartner(ctx, db.FindWaitingPartnerParams{
		SessionID:        req.SessionID,
		TopicID:          req.TopicID,
		ExcludeStudentID: req.StudentID,
		Now:              db.Time(now),
	})
	if db.IsNoRows(err) {
		return matchState{outcome: outcomeWaiting, entry: entry}, nil
	}
	if err != nil {
		return matchState{}, fmt.Errorf("find waiting partner: %w", err)
	}

	participants := []Participant{
		{StudentID: db.UUIDString(partner.StudentID), Name: partner.StudentName},
		{StudentID: db.UUIDString(req.StudentID), Name: entry.StudentName},
	}
	names, err := encodeNames(participants)
	if err != nil {
		return matchState{}, err
	}

	// The pair lives on the caller's conversation unless that one already
	// backs another group, in which case the partner's is used.
	var (
		row          db.CollaborativeSession
		conversation db.Conversation
		bound        bool
	)
	for _, owner := range []pgtype.UUID{req.StudentID, partner.StudentID} {
		conversation, err = q.UpsertConversation(ctx, db.UpsertConversationParams{
			ID:              db.NewID(),
			SessionID:       req.SessionID,
			StudentID:       owner,
			TopicID:         req.TopicID,
			IsCollaborative: true,
			Now:             db.Time(now),
		})
		if err != nil {
			return matchState{}, fmt.Errorf("upsert conversation: %w", err)
		}
		row, err = q.UpsertCollabSession(ctx, db.UpsertCollabSessionParams{
			ID:                   db.NewID(),
			ConversationID:       conversation.ID,
			SessionID:            req.SessionID,
			TopicID:              req.TopicID,
			Mode:                 req.PreferredMode,
			ParticipantIds:       []pgtype.UUID{partner.StudentID, req.StudentID},
			ParticipantNames:     names,
			CurrentTurnStudentID: partner.StudentID,
			Now:                  db.Time(now),
		})
		if err == nil {
			bound = true
			break
		}
		if !db.IsNoRows(err) {
			return matchState{}, fmt.Errorf("upsert collab session: %w", err)
		}
		active, lookupErr := q.GetCollabSessionByConversation(ctx, conversation.ID)
		if lookupErr != nil {
			return matchState{}, fmt.Errorf("load active collab session: %w", lookupErr)
		}
		if containsID(active.ParticipantIds, req.StudentID) {
			return s.attach(ctx, q, req, entry, active, now)
		}
	}
	if !bound {
		s.logger.Warn("conversations already in use, leaving student waiting",
			zap.String("session_id", db.UUIDString(req.SessionID)),
			zap.String("student_id", db.UUIDString(req.StudentID)),
			zap.String("partner_id", db.UUIDString(partner.StudentID)))
		return matchState{outcome: outcomeWaiting, entry: entry}, nil
	}

	err = q.SetConversationCollab(ctx, db.SetConversationCollabParams{
		ID:              conversation.ID,
		IsCollaborative: true,
		CollabSessionID: row.ID,
		UpdatedAt:       db.Time(now),
	})
	if err != nil {
		return matchState{}, fmt.Errorf("link conversation: %w", err)
	}

	pairs := []struct{ entry, with pgtype.UUID }{
		{entry.ID, partner.StudentID},
		{partner.ID, req.StudentID},
	}
	for _, p := range pairs {
		err := q.MarkWaitingEntryMatched(ctx, db.MarkWaitingEntryMatchedParams{
			ID:              p.entry,
			MatchedWith:     p.with,
			CollabSessionID: row.ID,
			ConversationID:  conversation.ID,
			UpdatedAt:       db.Time(now),
		})
		if err != nil {
			return matchState{}, fmt.Errorf("mark waiting entry matched: %w", err)
		}
	}

	collab, err := collabFromRow(row)
	if err != nil {
		return matchState{}, err
	}
	return matchState{outcome: outcomeMatched, entry: entry, partner: partner, collab: collab}, nil
}

// attach marks the caller's entry as matched into an active collaboration
// they already belong to.
func (s *Service) attach(ctx context.Context, q db.Querier, req JoinRequest, entry db.WaitingRoomEntry, row db.CollaborativeSession, now time.Time) (matchState, error) {
	collab, err := collabFromRow(row)
	if err != nil {
		return matchState{}, err
	}
	err = q.MarkWaitingEntryMatched(ctx, db.MarkWaitingEntryMatchedParams{
		ID:              entry.ID,
		MatchedWith:     otherParticipant(row.ParticipantIds, req.StudentID),
		CollabSessionID: row.ID,
		ConversationID:  row.ConversationID,
		UpdatedAt:       db.Time(now),
	})
	if err != nil {
		return matchState{}, fmt.Errorf("mark waiting entry matched: %w", err)
	}
	return matchState{outcome: outcomeExisting, entry: entry, collab: collab}, nil
}

func (s *Service) upsertEntry(ctx context.Context, q db.Querier, req JoinRequest, now time.Time) (db.WaitingRoomEntry, error) {
	return q.UpsertWaitingEntry(ctx, db.UpsertWaitingEntryParams{
		ID:            db.NewID(),
		SessionID:     req.SessionID,
		TopicID:       req.TopicID,
		StudentID:     req.StudentID,
		StudentName:   req.StudentName,
		PreferredMode: req.PreferredMode,
		Now:           db.Time(now),
		ExpiresAt:     db.Time(now.Add(s.cfg.WaitingRoomTTL)),
	})
}

// existingMatch resolves a join from a student whose entry is already
// matched. done is false when the caller is no longer part of that match;
// only the caller's entry is released so they can queue again.
func (s *Service) existingMatch(ctx context.Context, q db.Querier, req JoinRequest, now time.Time) (matchState, bool, error) {
	entry, err := q.GetWaitingEntry(ctx, db.GetWaitingEntryParams{
		SessionID: req.SessionID,
		TopicID:   req.TopicID,
		StudentID: req.StudentID,
	})
	if err != nil {
		return matchState{}, false, fmt.Errorf("load matched entry: %w", err)
	}
	row, err := q.GetCollabSession(ctx, entry.CollabSessionID)
	if err != nil && !db.IsNoRows(err) {
		return matchState{}, false, fmt.Errorf("load matched collab session: %w", err)
	}
	if err == nil && row.Status == db.CollabStatusActive && containsID(row.ParticipantIds, req.StudentID) {
		collab, err := collabFromRow(row)
		if err != nil {
			return matchState{}, false, err
		}
		return matchState{outcome: outcomeExisting, entry: entry, collab: collab}, true, nil
	}
	_, err = q.ReleaseStudentWaitingEntry(ctx, db.ReleaseStudentWaitingEntryParams{
		CollabSessionID: entry.CollabSessionID,
		StudentID:       req.StudentID,
		UpdatedAt:       db.Time(now),
	})
	if err != nil {
		return matchState{}, false, fmt.Errorf("release stale match: %w", err)
	}
	return matchState{}, false, nil
}

// enqueue records the caller as waiting without attempting a match.
func (s *Service) enqueue(ctx context.Context, req JoinRequest) (matchState, error) {
	entry, err := s.upsertEntry(ctx, s.store.Querier(), req, s.now())
	if db.IsNoRows(err) {
		var state matchState
		err = s.store.WithTx(ctx, func(q db.Querier) error {
			var done bool
			var txErr error
			state, done, txErr = s.existingMatch(ctx, q, req, s.now())
			if txErr != nil || done {
				return txErr
			}
			state.entry, txErr = s.upsertEntry(ctx, q, req, s.now())
			return txErr
		})
		return state, err
	}
	if err != nil {
		return matchState{}, err
	}
	return matchState{outcome: outcomeWaiting, entry: entry}, nil
}

func (s *Service) sessionTopic(ctx context.Context, sessionID, topicID pgtype.UUID) (db.Topic, error) {
	topic, err := s.store.Querier().GetTopic(ctx, topicID)
	if err != nil {
		return db.Topic{}, notFound(err, ErrTopicNotFound)
	}
	if topic.SessionID != sessionID {
		return db.Topic{}, ErrTopicMismatch
	}
	return topic, nil
}

// openConversation stores the tutor's greeting. Generation failures leave
// the conversation without an opening line.
func (s *Service) openConversation(ctx context.Context, state matchState) {
	names := make([]string, 0, len(state.collab.Participants))
	for _, p := range state.collab.Participants {
		names = append(names, p.Name)
	}
	text, err := s.generator.Generate(ctx, tutor.OpeningPrompt(state.topic.Title, names))
	if err != nil {
		s.logger.Warn("opening message generation failed",
			zap.String("collab_session_id", state.collab.ID),
			zap.Error(err))
		return
	}
	conversationID, err := db.ParseUUID(state.collab.ConversationID)
	if err != nil {
		return
	}
	_, err = s.store.Querier().InsertConversationMessage(ctx, db.InsertConversationMessageParams{
		ID:             db.NewID(),
		ConversationID: conversationID,
		Role:           db.MessageRoleAssistant,
		Content:        text,
		CreatedAt:      db.Time(s.now()),
	})
	if err != nil {
		s.logger.Warn("store opening message",
			zap.String("collab_session_id", state.collab.ID),
			zap.Error(err))
	}
}

func (s *Service) announceWaiting(entry db.WaitingRoomEntry) {
	channel := notify.TopicChannel(db.UUIDString(entry.SessionID), db.UUIDString(entry.TopicID))
	s.notifier.Notify(channel, notify.NewEvent(notify.EventStudentWaiting, waitingFromRow(entry), s.now()))
}

func (s *Service) announceMatch(state matchState) {
	now := s.now()
	caller := Participant{StudentID: db.UUIDString(state.entry.StudentID), Name: state.entry.StudentName}
	partnerID := db.UUIDString(state.partner.StudentID)

	s.notifier.Notify(notify.StudentChannel(partnerID), notify.NewEvent(notify.EventPartnerFound, MatchResult{
		Matched:         true,
		CollabSessionID: state.collab.ID,
		ConversationID:  state.collab.ConversationID,
		Partner:         &caller,
		IsInitiator:     true,
		CurrentTurn:     state.collab.CurrentTurn,
	}, now))
	s.notifier.Notify(notify.CollabChannel(state.collab.ID), notify.NewEvent(notify.EventCollabStarted, state.collab, now))
}

func matchResultFor(collab Collab, studentID string, decision lifecycle.Decision) MatchResult {
	result := MatchResult{
		Matched:         true,
		CollabSessionID: collab.ID,
		ConversationID:  collab.ConversationID,
		CurrentTurn:     collab.CurrentTurn,
		IsInitiator:     len(collab.Participants) > 0 && collab.Participants[0].StudentID == studentID,
		Warned:          warned(decision),
	}
	for _, p := range collab.Participants {
		if p.StudentID != studentID {
			partner := p
			result.Partner = &partner
			break
		}
	}
	return result
}

func containsID(ids []pgtype.UUID, id pgtype.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func otherParticipant(ids []pgtype.UUID, self pgtype.UUID) pgtype.UUID {
	for _, id := range ids {
		if id != self {
			return id
		}
	}
	return pgtype.UUID{}
}
