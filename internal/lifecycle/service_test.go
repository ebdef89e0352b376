package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/clock"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/notify"
	"semaphore/liveclass/internal/testkit"
)

type ServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *testkit.Store
	recorder *testkit.Recorder
	clock    *clock.Fake
	service  *Service
	teacher  pgtype.UUID
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testkit.NewStore()
	s.recorder = testkit.NewRecorder()
	s.clock = clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	s.service = NewService(s.store, s.recorder, s.clock, 2*time.Minute, zap.NewNop())
	s.teacher = db.NewID()
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) create() Snapshot {
	snap, err := s.service.Create(s.ctx, s.teacher, "Biology 101")
	s.Require().NoError(err)
	return snap
}

func (s *ServiceTestSuite) TestCreateStartsActiveWithFirstInstance() {
	snap := s.create()

	s.Equal(db.SessionStatusActive, snap.Session.Status)
	s.Equal(int32(1), snap.Instance.InstanceNumber)
	s.True(snap.Instance.IsCurrent)
	s.Equal(OutcomeActive, snap.Decision.Outcome)
	s.False(snap.Session.GracePeriodEndsAt.Valid)
}

func (s *ServiceTestSuite) TestCreateRequiresTitle() {
	_, err := s.service.Create(s.ctx, s.teacher, "   ")
	s.ErrorIs(err, ErrInvalidTitle)
}

func (s *ServiceTestSuite) TestPauseSetsGraceAndPublishes() {
	snap := s.create()
	id := snap.Session.ID

	paused, err := s.service.Pause(s.ctx, id, s.teacher)
	s.Require().NoError(err)
	s.Equal(db.SessionStatusPaused, paused.Session.Status)
	s.True(paused.Session.PausedAt.Valid)
	s.Equal(s.clock.Now().Add(2*time.Minute), paused.Session.GracePeriodEndsAt.Time)
	s.Equal(OutcomeInGrace, paused.Decision.Outcome)

	s.Equal([]string{notify.EventSessionStatusChanged}, s.recorder.Types(notify.SessionChannel(db.UUIDString(id))))

	s.clock.Advance(2*time.Minute + time.Second)
	decision, err := s.service.Guard(s.ctx, id)
	s.ErrorIs(err, ErrSessionPaused)
	s.Equal(ReasonPaused, decision.Reason)
}

func (s *ServiceTestSuite) TestResumeClearsGrace() {
	snap := s.create()
	_, err := s.service.Pause(s.ctx, snap.Session.ID, s.teacher)
	s.Require().NoError(err)

	resumed, err := s.service.Resume(s.ctx, snap.Session.ID, s.teacher)
	s.Require().NoError(err)
	s.Equal(db.SessionStatusActive, resumed.Session.Status)
	s.False(resumed.Session.GracePeriodEndsAt.Valid)
	s.False(resumed.Session.PausedAt.Valid)
}

func (s *ServiceTestSuite) TestEndSupersedesInstanceAndReactivateOpensNext() {
	snap := s.create()
	id := snap.Session.ID

	ended, err := s.service.End(s.ctx, id, s.teacher)
	s.Require().NoError(err)
	s.Equal(db.SessionStatusEnded, ended.Session.Status)
	s.True(ended.Session.EndedAt.Valid)
	s.True(ended.Session.GracePeriodEndsAt.Valid)
	s.False(ended.Instance.IsCurrent)

	s.clock.Advance(time.Hour)
	reactivated, err := s.service.Reactivate(s.ctx, id, s.teacher)
	s.Require().NoError(err)
	s.Equal(db.SessionStatusActive, reactivated.Session.Status)
	s.False(reactivated.Session.EndedAt.Valid)
	s.False(reactivated.Session.GracePeriodEndsAt.Valid)
	s.Equal(int32(2), reactivated.Instance.InstanceNumber)

	current := 0
	for _, inst := range s.store.Instances(id) {
		if inst.IsCurrent {
			current++
		}
	}
	s.Equal(1, current)
}

func (s *ServiceTestSuite) TestInvalidTransitions() {
	snap := s.create()
	id := snap.Session.ID

	_, err := s.service.Resume(s.ctx, id, s.teacher)
	s.ErrorIs(err, ErrInvalidTransition)
	_, err = s.service.Reactivate(s.ctx, id, s.teacher)
	s.ErrorIs(err, ErrInvalidTransition)

	_, err = s.service.End(s.ctx, id, s.teacher)
	s.Require().NoError(err)
	_, err = s.service.Pause(s.ctx, id, s.teacher)
	s.ErrorIs(err, ErrInvalidTransition)
	s.Empty(s.recorder.Types(notify.SessionChannel(db.UUIDString(id)))[1:])
}

func (s *ServiceTestSuite) TestOwnership() {
	snap := s.create()

	_, err := s.service.Pause(s.ctx, snap.Session.ID, db.NewID())
	s.ErrorIs(err, ErrNotSessionOwner)

	_, err = s.service.Pause(s.ctx, snap.Session.ID, pgtype.UUID{})
	s.NoError(err, "admin callers skip the ownership check")
}

func (s *ServiceTestSuite) TestUnknownSession() {
	_, err := s.service.Pause(s.ctx, db.NewID(), s.teacher)
	s.ErrorIs(err, ErrSessionNotFound)

	_, err = s.service.Guard(s.ctx, db.NewID())
	s.ErrorIs(err, ErrSessionNotFound)

	_, err = s.service.GuardConversation(s.ctx, db.NewID())
	s.ErrorIs(err, ErrConversationNotFound)

	_, err = s.service.GuardCollab(s.ctx, db.NewID())
	s.ErrorIs(err, ErrCollabNotFound)
}

func (s *ServiceTestSuite) TestTransitionRollsBackOnInstanceFailure() {
	snap := s.create()
	_, err := s.service.End(s.ctx, snap.Session.ID, s.teacher)
	s.Require().NoError(err)

	s.store.FailNext("CreateSessionInstance", errors.New("disk full"))
	_, err = s.service.Reactivate(s.ctx, snap.Session.ID, s.teacher)
	s.Error(err)

	after, err := s.service.Get(s.ctx, snap.Session.ID)
	s.Require().NoError(err)
	s.Equal(db.SessionStatusEnded, after.Session.Status)
}

func (s *ServiceTestSuite) TestTopics() {
	snap := s.create()

	first, err := s.service.CreateTopic(s.ctx, snap.Session.ID, s.teacher, "Cells", "")
	s.Require().NoError(err)
	s.clock.Advance(time.Second)
	_, err = s.service.CreateTopic(s.ctx, snap.Session.ID, s.teacher, "Photosynthesis", "light to sugar")
	s.Require().NoError(err)

	topics, err := s.service.ListTopics(s.ctx, snap.Session.ID)
	s.Require().NoError(err)
	s.Require().Len(topics, 2)
	s.Equal(first.ID, topics[0].ID)

	_, err = s.service.CreateTopic(s.ctx, snap.Session.ID, db.NewID(), "Stolen", "")
	s.ErrorIs(err, ErrNotSessionOwner)
	_, err = s.service.ListTopics(s.ctx, db.NewID())
	s.ErrorIs(err, ErrSessionNotFound)
}
