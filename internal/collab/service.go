// Package collab implements the tag-team collaboration engine: waiting room,
// matchmaking, turn coordination, contribution tracking, chat and invitations.
package collab

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/clock"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/errs"
	"semaphore/liveclass/internal/lifecycle"
	"semaphore/liveclass/internal/notify"
	"semaphore/liveclass/internal/tutor"
)

var (
	ErrNotYourTurn       = errs.Forbidden("not_your_turn", "it is not your turn")
	ErrNotAParticipant   = errs.Forbidden("not_a_participant", "student is not a participant of this collaborative session")
	ErrCollabNotActive   = errs.Forbidden("collab_session_not_active", "collaborative session is no longer active")
	ErrCollabNotFound    = lifecycle.ErrCollabNotFound
	ErrTopicNotFound     = lifecycle.ErrTopicNotFound
	ErrTopicMismatch     = errs.Validation("topic_session_mismatch", "topic does not belong to this session")
	ErrConversationState = errs.Validation("conversation_session_mismatch", "conversation does not belong to this session")
	ErrConversationGone  = lifecycle.ErrConversationNotFound

	ErrInvitationNotFound   = errs.NotFound("invitation_not_found", "invitation not found")
	ErrInvitationAnswered   = errs.Conflict("invitation_already_answered", "invitation was already answered")
	ErrInvitationExpired    = errs.Conflict("invitation_expired", "invitation has expired")
	ErrNotInvitationTarget  = errs.Forbidden("not_invitation_recipient", "only the invited student may respond")
	ErrAlreadyParticipant   = errs.Conflict("already_participant", "student already participates in this session")
	ErrSelfInvitation       = errs.Validation("cannot_invite_self", "students cannot invite themselves")
	ErrNotConversationOwner = errs.Forbidden("not_conversation_owner", "the conversation owner must be one of the participants")
	ErrParticipantsRequired = errs.Validation("participants_required", "at least two distinct participants are required")
	ErrEmptyMessage         = errs.Validation("empty_message", "message content is required")
	ErrInvalidContribution  = errs.Validation("invalid_contribution", "word count and score must not be negative")
)

const DefaultMode = "turn_based"

type Store interface {
	Querier() db.Querier
	WithTx(ctx context.Context, fn func(db.Querier) error) error
}

// Guard resolves the lifecycle verdict for the class session behind an id.
type Guard interface {
	Guard(ctx context.Context, sessionID pgtype.UUID) (lifecycle.Decision, error)
	GuardCollab(ctx context.Context, collabSessionID pgtype.UUID) (lifecycle.Decision, error)
}

type Config struct {
	WaitingRoomTTL         time.Duration
	InvitationTTL          time.Duration
	MinMessagesForBalance  int
	ImbalanceThreshold     float64
	AvailablePartnersLimit int
	HistoryLimit           int
}

func (c Config) withDefaults() Config {
	if c.WaitingRoomTTL <= 0 {
		c.WaitingRoomTTL = 10 * time.Minute
	}
	if c.InvitationTTL <= 0 {
		c.InvitationTTL = 5 * time.Minute
	}
	if c.MinMessagesForBalance <= 0 {
		c.MinMessagesForBalance = 4
	}
	if c.ImbalanceThreshold <= 0 {
		c.ImbalanceThreshold = 0.7
	}
	if c.AvailablePartnersLimit <= 0 {
		c.AvailablePartnersLimit = 10
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	return c
}

type Service struct {
	store     Store
	guard     Guard
	generator tutor.Generator
	notifier  notify.Notifier
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewService(store Store, guard Guard, generator tutor.Generator, notifier notify.Notifier, clk clock.Clock, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		generator: generator,
		notifier:  notifier,
		clock:     clk,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer("semaphore/liveclass/collab"),
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

// retryOnUnique runs fn again once when it fails on a uniqueness race.
func retryOnUnique(fn func() error) (retried bool, err error) {
	err = fn()
	if db.IsUniqueViolation(err) {
		return true, fn()
	}
	return false, err
}

func notFound(err error, sentinel *errs.Error) error {
	if db.IsNoRows(err) {
		return sentinel.WithCause(err)
	}
	return err
}
