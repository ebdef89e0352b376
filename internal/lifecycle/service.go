package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/clock"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/errs"
	"semaphore/liveclass/internal/metrics"
	"semaphore/liveclass/internal/notify"
)

var (
	ErrSessionNotFound      = errs.NotFound("session_not_found", "class session not found")
	ErrConversationNotFound = errs.NotFound("conversation_not_found", "conversation not found")
	ErrCollabNotFound       = errs.NotFound("collab_session_not_found", "collaborative session not found")
	ErrTopicNotFound        = errs.NotFound("topic_not_found", "topic not found")
	ErrInvalidTransition    = errs.Conflict("invalid_transition", "transition not allowed from the current status")
	ErrNotSessionOwner      = errs.Forbidden("not_session_owner", "only the session's teacher may do this")
	ErrInvalidTitle         = errs.Validation("invalid_title", "title is required")
)

type Store interface {
	Querier() db.Querier
	WithTx(ctx context.Context, fn func(db.Querier) error) error
}

type Service struct {
	store    Store
	notifier notify.Notifier
	clock    clock.Clock
	grace    time.Duration
	logger   *zap.Logger
}

func NewService(store Store, notifier notify.Notifier, clk clock.Clock, gracePeriod time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		clock:    clk,
		grace:    gracePeriod,
		logger:   logger,
	}
}

// Snapshot is a session with its current instance and guard verdict at read time.
type Snapshot struct {
	Session  db.ClassSession
	Instance db.SessionInstance
	Decision Decision
}

func (s *Service) Create(ctx context.Context, teacherID pgtype.UUID, title string) (Snapshot, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Snapshot{}, ErrInvalidTitle
	}
	now := db.Time(s.clock.Now())
	var snap Snapshot
	err := s.store.WithTx(ctx, func(q db.Querier) error {
		session, err := q.CreateClassSession(ctx, db.CreateClassSessionParams{
			ID:        db.NewID(),
			TeacherID: teacherID,
			Title:     title,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		instance, err := q.CreateSessionInstance(ctx, db.CreateSessionInstanceParams{
			ID:        db.NewID(),
			SessionID: session.ID,
			StartedAt: now,
		})
		if err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
		snap = Snapshot{Session: session, Instance: instance}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	snap.Decision = Authorize(StateOf(snap.Session), s.clock.Now())
	s.logger.Info("class session created",
		zap.String("session_id", db.UUIDString(snap.Session.ID)),
		zap.String("teacher_id", db.UUIDString(teacherID)),
	)
	return snap, nil
}

func (s *Service) Get(ctx context.Context, sessionID pgtype.UUID) (Snapshot, error) {
	q := s.store.Querier()
	session, err := q.GetClassSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, notFound(err, ErrSessionNotFound)
	}
	snap := Snapshot{Session: session, Decision: Authorize(StateOf(session), s.clock.Now())}
	instance, err := q.GetCurrentInstance(ctx, sessionID)
	switch {
	case err == nil:
		snap.Instance = instance
	case !db.IsNoRows(err):
		return Snapshot{}, err
	}
	return snap, nil
}

type transition struct {
	name  string
	from  []db.SessionStatus
	apply func(session db.ClassSession, now time.Time) db.UpdateClassSessionStatusParams
	// instance bookkeeping inside the same transaction
	instances func(ctx context.Context, q db.Querier, sessionID pgtype.UUID, now time.Time) error
}

func (s *Service) Pause(ctx context.Context, sessionID, teacherID pgtype.UUID) (Snapshot, error) {
	return s.transition(ctx, sessionID, teacherID, transition{
		name: "pause",
		from: []db.SessionStatus{db.SessionStatusActive},
		apply: func(session db.ClassSession, now time.Time) db.UpdateClassSessionStatusParams {
			return db.UpdateClassSessionStatusParams{
				ID:                session.ID,
				Status:            db.SessionStatusPaused,
				PausedAt:          db.Time(now),
				EndedAt:           session.EndedAt,
				GracePeriodEndsAt: db.Time(now.Add(s.grace)),
			}
		},
	})
}

func (s *Service) Resume(ctx context.Context, sessionID, teacherID pgtype.UUID) (Snapshot, error) {
	return s.transition(ctx, sessionID, teacherID, transition{
		name: "resume",
		from: []db.SessionStatus{db.SessionStatusPaused},
		apply: func(session db.ClassSession, _ time.Time) db.UpdateClassSessionStatusParams {
			return db.UpdateClassSessionStatusParams{ID: session.ID, Status: db.SessionStatusActive}
		},
	})
}

func (s *Service) End(ctx context.Context, sessionID, teacherID pgtype.UUID) (Snapshot, error) {
	return s.transition(ctx, sessionID, teacherID, transition{
		name: "end",
		from: []db.SessionStatus{db.SessionStatusActive, db.SessionStatusPaused},
		apply: func(session db.ClassSession, now time.Time) db.UpdateClassSessionStatusParams {
			return db.UpdateClassSessionStatusParams{
				ID:                session.ID,
				Status:            db.SessionStatusEnded,
				PausedAt:          session.PausedAt,
				EndedAt:           db.Time(now),
				GracePeriodEndsAt: db.Time(now.Add(s.grace)),
			}
		},
		instances: func(ctx context.Context, q db.Querier, sessionID pgtype.UUID, now time.Time) error {
			return q.SupersedeCurrentInstance(ctx, db.SupersedeCurrentInstanceParams{SessionID: sessionID, EndedAt: db.Time(now)})
		},
	})
}

// Reactivate reopens an ended session under a new current instance.
func (s *Service) Reactivate(ctx context.Context, sessionID, teacherID pgtype.UUID) (Snapshot, error) {
	return s.transition(ctx, sessionID, teacherID, transition{
		name: "reactivate",
		from: []db.SessionStatus{db.SessionStatusEnded},
		apply: func(session db.ClassSession, _ time.Time) db.UpdateClassSessionStatusParams {
			return db.UpdateClassSessionStatusParams{ID: session.ID, Status: db.SessionStatusActive}
		},
		instances: func(ctx context.Context, q db.Querier, sessionID pgtype.UUID, now time.Time) error {
			if err := q.SupersedeCurrentInstance(ctx, db.SupersedeCurrentInstanceParams{SessionID: sessionID, EndedAt: db.Time(now)}); err != nil {
				return err
			}
			_, err := q.CreateSessionInstance(ctx, db.CreateSessionInstanceParams{
				ID:        db.NewID(),
				SessionID: sessionID,
				StartedAt: db.Time(now),
			})
			return err
		},
	})
}

// transition runs t under a row lock. A zero teacherID skips the ownership
// check (admin callers).
func (s *Service) transition(ctx context.Context, sessionID, teacherID pgtype.UUID, t transition) (Snapshot, error) {
	now := s.clock.Now()
	var updated db.ClassSession
	err := s.store.WithTx(ctx, func(q db.Querier) error {
		session, err := q.GetClassSessionForUpdate(ctx, sessionID)
		if err != nil {
			return notFound(err, ErrSessionNotFound)
		}
		if teacherID.Valid && session.TeacherID != teacherID {
			return ErrNotSessionOwner
		}
		if !allowedFrom(session.Status, t.from) {
			return ErrInvalidTransition
		}
		params := t.apply(session, now)
		params.UpdatedAt = db.Time(now)
		updated, err = q.UpdateClassSessionStatus(ctx, params)
		if err != nil {
			return fmt.Errorf("%s session: %w", t.name, err)
		}
		if t.instances != nil {
			if err := t.instances(ctx, q, sessionID, now); err != nil {
				return fmt.Errorf("%s session instances: %w", t.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap, err := s.Get(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	id := db.UUIDString(updated.ID)
	s.notifier.Notify(notify.SessionChannel(id), notify.NewEvent(notify.EventSessionStatusChanged, map[string]any{
		"sessionId":   id,
		"status":      updated.Status,
		"graceEndsAt": db.TimePtr(updated.GracePeriodEndsAt),
	}, now))
	s.logger.Info("class session transition",
		zap.String("session_id", id),
		zap.String("transition", t.name),
		zap.String("status", string(updated.Status)),
	)
	return snap, nil
}

func allowedFrom(status db.SessionStatus, from []db.SessionStatus) bool {
	for _, f := range from {
		if status == f {
			return true
		}
	}
	return false
}

// Guard loads the session and returns the verdict. A blocked verdict is
// returned together with its forbidden error.
func (s *Service) Guard(ctx context.Context, sessionID pgtype.UUID) (Decision, error) {
	session, err := s.store.Querier().GetClassSession(ctx, sessionID)
	if err != nil {
		return Decision{}, notFound(err, ErrSessionNotFound)
	}
	return s.decide(session)
}

func (s *Service) GuardConversation(ctx context.Context, conversationID pgtype.UUID) (Decision, error) {
	session, err := s.store.Querier().GetClassSessionByConversation(ctx, conversationID)
	if err != nil {
		return Decision{}, notFound(err, ErrConversationNotFound)
	}
	return s.decide(session)
}

func (s *Service) GuardCollab(ctx context.Context, collabSessionID pgtype.UUID) (Decision, error) {
	session, err := s.store.Querier().GetClassSessionByCollab(ctx, collabSessionID)
	if err != nil {
		return Decision{}, notFound(err, ErrCollabNotFound)
	}
	return s.decide(session)
}

func (s *Service) decide(session db.ClassSession) (Decision, error) {
	decision := Authorize(StateOf(session), s.clock.Now())
	if err := decision.Err(); err != nil {
		metrics.GuardBlocks.WithLabelValues(string(decision.Reason)).Inc()
		return decision, err
	}
	return decision, nil
}

func (s *Service) CreateTopic(ctx context.Context, sessionID, teacherID pgtype.UUID, title, description string) (db.Topic, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return db.Topic{}, ErrInvalidTitle
	}
	q := s.store.Querier()
	session, err := q.GetClassSession(ctx, sessionID)
	if err != nil {
		return db.Topic{}, notFound(err, ErrSessionNotFound)
	}
	if teacherID.Valid && session.TeacherID != teacherID {
		return db.Topic{}, ErrNotSessionOwner
	}
	return q.CreateTopic(ctx, db.CreateTopicParams{
		ID:          db.NewID(),
		SessionID:   sessionID,
		Title:       title,
		Description: strings.TrimSpace(description),
		CreatedAt:   db.Time(s.clock.Now()),
	})
}

func (s *Service) ListTopics(ctx context.Context, sessionID pgtype.UUID) ([]db.Topic, error) {
	q := s.store.Querier()
	if _, err := q.GetClassSession(ctx, sessionID); err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	return q.ListTopicsBySession(ctx, sessionID)
}

// notFound maps a missing row to sentinel and passes other errors through.
func notFound(err error, sentinel *errs.Error) error {
	if db.IsNoRows(err) {
		return sentinel.WithCause(err)
	}
	return err
}
