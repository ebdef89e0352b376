package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/clock"
	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/lifecycle"
	"semaphore/liveclass/internal/notify"
	"semaphore/liveclass/internal/testkit"
	"semaphore/liveclass/internal/tutor/mocks"
)

type student struct {
	id   pgtype.UUID
	name string
}

func (st student) String() string {
	return db.UUIDString(st.id)
}

type CollabTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *testkit.Store
	recorder  *testkit.Recorder
	clock     *clock.Fake
	generator *mocks.MockGenerator
	lifecycle *lifecycle.Service
	service   *Service

	teacher pgtype.UUID
	session pgtype.UUID
	topic   pgtype.UUID
	ava     student
	ben     student
	cleo    student
}

func TestCollabTestSuite(t *testing.T) {
	suite.Run(t, new(CollabTestSuite))
}

func (s *CollabTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testkit.NewStore()
	s.recorder = testkit.NewRecorder()
	s.clock = clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	s.generator = mocks.NewMockGenerator(gomock.NewController(s.T()))
	s.lifecycle = lifecycle.NewService(s.store, s.recorder, s.clock, 2*time.Minute, zap.NewNop())
	s.service = NewService(s.store, s.lifecycle, s.generator, s.recorder, s.clock, Config{}, zap.NewNop())

	s.teacher = db.NewID()
	snap, err := s.lifecycle.Create(s.ctx, s.teacher, "Chemistry")
	s.Require().NoError(err)
	s.session = snap.Session.ID
	topic, err := s.lifecycle.CreateTopic(s.ctx, s.session, s.teacher, "Covalent bonds", "")
	s.Require().NoError(err)
	s.topic = topic.ID

	s.ava = student{id: db.NewID(), name: "Ava"}
	s.ben = student{id: db.NewID(), name: "Ben"}
	s.cleo = student{id: db.NewID(), name: "Cleo"}
}

func (s *CollabTestSuite) tutorSays(text string) {
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(text, nil).AnyTimes()
}

func (s *CollabTestSuite) join(st student) MatchResult {
	result, err := s.service.TryMatch(s.ctx, JoinRequest{
		SessionID:   s.session,
		TopicID:     s.topic,
		StudentID:   st.id,
		StudentName: st.name,
	})
	s.Require().NoError(err)
	return result
}

// pair matches Ava (first) with Ben and returns the collaborative session id.
func (s *CollabTestSuite) pair() pgtype.UUID {
	s.Require().False(s.join(s.ava).Matched)
	s.clock.Advance(5 * time.Second)
	result := s.join(s.ben)
	s.Require().True(result.Matched)
	id, err := db.ParseUUID(result.CollabSessionID)
	s.Require().NoError(err)
	return id
}

func (s *CollabTestSuite) TestJoinTwiceKeepsOneEntryAndRefreshesExpiry() {
	first := s.join(s.ava)
	s.clock.Advance(time.Minute)
	second := s.join(s.ava)

	s.False(second.Matched)
	s.Equal(first.WaitingRoomID, second.WaitingRoomID)
	entries := s.store.WaitingEntries()
	s.Require().Len(entries, 1)
	s.Equal(s.clock.Now().Add(10*time.Minute), entries[0].ExpiresAt.Time)
	s.Equal(s.clock.Now().Add(10*time.Minute), *second.ExpiresAt)
	s.Equal(s.clock.Now().Add(-time.Minute), entries[0].CreatedAt.Time)

	waiting := s.recorder.Types(notify.TopicChannel(db.UUIDString(s.session), db.UUIDString(s.topic)))
	s.Equal([]string{notify.EventStudentWaiting, notify.EventStudentWaiting}, waiting)
}

func (s *CollabTestSuite) TestAvaAndBenScenario() {
	s.tutorSays("Welcome Ava and Ben!")

	first := s.join(s.ava)
	s.False(first.Matched)
	s.NotEmpty(first.WaitingRoomID)

	s.clock.Advance(5 * time.Second)
	second := s.join(s.ben)
	s.Require().True(second.Matched)
	s.Equal(s.ava.String(), second.CurrentTurn)
	s.False(second.IsInitiator)
	s.Require().NotNil(second.Partner)
	s.Equal("Ava", second.Partner.Name)

	collabID, err := db.ParseUUID(second.CollabSessionID)
	s.Require().NoError(err)

	_, err = s.service.Tag(s.ctx, collabID, s.ben.id, s.ava.id)
	s.ErrorIs(err, ErrNotYourTurn)
	details, err := s.service.GetCollab(s.ctx, collabID)
	s.Require().NoError(err)
	s.Equal(s.ava.String(), details.CurrentTurn)

	tagged, err := s.service.Tag(s.ctx, collabID, s.ava.id, s.ben.id)
	s.Require().NoError(err)
	s.True(tagged.Success)
	s.Equal(s.ben.String(), tagged.CurrentTurn)
	s.Equal(1, tagged.TurnCount)

	found := s.recorder.On(notify.StudentChannel(s.ava.String()))
	s.Require().Len(found, 1)
	s.Equal(notify.EventPartnerFound, found[0].Type)
	payload, ok := found[0].Payload.(MatchResult)
	s.Require().True(ok)
	s.True(payload.IsInitiator)
	s.Equal("Ben", payload.Partner.Name)

	s.Equal([]string{notify.EventCollabStarted, notify.EventTurnChanged},
		s.recorder.Types(notify.CollabChannel(second.CollabSessionID)))

	messages, err := s.service.Messages(s.ctx, collabID)
	s.Require().NoError(err)
	s.Require().Len(messages, 1)
	s.Equal("Welcome Ava and Ben!", messages[0].Content)
	s.Equal(string(db.MessageRoleAssistant), messages[0].Role)

	s.Equal("Covalent bonds", details.Topic.Title)
	s.True(details.Conversation.IsCollaborative)
	s.Equal(s.ben.String(), details.Conversation.StudentID)
}

// seedWaiting puts st in the waiting room without running the matchmaker.
func (s *CollabTestSuite) seedWaiting(st student) {
	_, err := s.store.Querier().UpsertWaitingEntry(s.ctx, db.UpsertWaitingEntryParams{
		ID:            db.NewID(),
		SessionID:     s.session,
		TopicID:       s.topic,
		StudentID:     st.id,
		StudentName:   st.name,
		PreferredMode: DefaultMode,
		Now:           db.Time(s.clock.Now()),
		ExpiresAt:     db.Time(s.clock.Now().Add(10 * time.Minute)),
	})
	s.Require().NoError(err)
}

func (s *CollabTestSuite) TestOldestWaiterIsChosen() {
	s.tutorSays("Hi")
	s.seedWaiting(s.ava)
	s.clock.Advance(time.Second)
	s.seedWaiting(s.cleo)
	s.clock.Advance(time.Second)

	result := s.join(s.ben)
	s.Require().True(result.Matched)
	s.Equal(s.ava.String(), result.Partner.StudentID)
	s.Equal(s.ava.String(), result.CurrentTurn)

	available, err := s.service.ListAvailablePartners(s.ctx, s.session, s.topic, s.ben.id)
	s.Require().NoError(err)
	s.Require().Len(available.Partners, 1)
	s.Equal(s.cleo.String(), available.Partners[0].StudentID)
}

func (s *CollabTestSuite) TestExpiredEntriesAreInvisible() {
	s.join(s.ava)
	s.clock.Advance(11 * time.Minute)

	available, err := s.service.ListAvailablePartners(s.ctx, s.session, s.topic, s.cleo.id)
	s.Require().NoError(err)
	s.Empty(available.Partners)

	result := s.join(s.ben)
	s.False(result.Matched)
	s.Empty(s.store.CollabSessions())

	n, err := s.service.ExpireWaitingEntries(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *CollabTestSuite) TestConcurrentJoinsPairExactlyOnce() {
	s.tutorSays("Hello both")

	var wg sync.WaitGroup
	results := make([]MatchResult, 2)
	errs := make([]error, 2)
	for i, st := range []student{s.ava, s.ben} {
		wg.Add(1)
		go func(i int, st student) {
			defer wg.Done()
			results[i], errs[i] = s.service.TryMatch(s.ctx, JoinRequest{
				SessionID:   s.session,
				TopicID:     s.topic,
				StudentID:   st.id,
				StudentName: st.name,
			})
		}(i, st)
	}
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])
	s.NotEqual(results[0].Matched, results[1].Matched)
	s.Len(s.store.CollabSessions(), 1)
	for _, entry := range s.store.WaitingEntries() {
		s.Equal(db.WaitingStatusMatched, entry.Status)
	}
}

func (s *CollabTestSuite) TestRejoinWhileMatchedReturnsExistingMatch() {
	s.tutorSays("Hi")
	collabID := s.pair()

	again := s.join(s.ava)
	s.True(again.Matched)
	s.Equal(db.UUIDString(collabID), again.CollabSessionID)
	s.True(again.IsInitiator)
	s.Equal("Ben", again.Partner.Name)
	s.Len(s.store.CollabSessions(), 1)
}

func (s *CollabTestSuite) TestRejoinAfterAbandonQueuesAgain() {
	s.tutorSays("Hi")
	collabID := s.pair()

	left, err := s.service.LeaveCollab(s.ctx, collabID, s.ben.id)
	s.Require().NoError(err)
	s.True(left.Abandoned)

	again := s.join(s.ava)
	s.False(again.Matched)
	s.NotEmpty(again.WaitingRoomID)
}

func (s *CollabTestSuite) TestMatchSurvivesTutorFailure() {
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.New("upstream down"))
	collabID := s.pair()

	messages, err := s.service.Messages(s.ctx, collabID)
	s.Require().NoError(err)
	s.Empty(messages)
}

func (s *CollabTestSuite) TestUniqueViolationIsRetriedOnce() {
	s.tutorSays("Hi")
	s.join(s.ava)
	s.store.FailNext("UpsertConversation", db.UniqueViolation("conversations_session_id_student_id_topic_id_key"))

	result := s.join(s.ben)
	s.True(result.Matched)
	s.Len(s.store.CollabSessions(), 1)
}

func (s *CollabTestSuite) TestRepeatedRaceLeavesCallerWaiting() {
	s.join(s.ava)
	race := db.UniqueViolation("collaborative_sessions_conversation_id_key")
	s.store.FailNext("UpsertCollabSession", race)
	s.store.FailNext("UpsertCollabSession", race)

	result := s.join(s.ben)
	s.False(result.Matched)
	s.NotEmpty(result.WaitingRoomID)
	s.Empty(s.store.CollabSessions())
	for _, entry := range s.store.WaitingEntries() {
		s.Equal(db.WaitingStatusWaiting, entry.Status)
	}
}

func (s *CollabTestSuite) TestJoinHonoursGracePeriod() {
	_, err := s.lifecycle.Pause(s.ctx, s.session, s.teacher)
	s.Require().NoError(err)

	s.clock.Advance(time.Minute + 59*time.Second)
	result := s.join(s.ava)
	s.Require().NotNil(result.Warning)
	s.Equal("SESSION_PAUSED_GRACE_PERIOD", result.Warning.Code)

	s.clock.Advance(2 * time.Second)
	_, err = s.service.TryMatch(s.ctx, JoinRequest{SessionID: s.session, TopicID: s.topic, StudentID: s.ben.id})
	s.ErrorIs(err, lifecycle.ErrSessionPaused)
}

func (s *CollabTestSuite) TestJoinRejectsForeignTopic() {
	other, err := s.lifecycle.Create(s.ctx, s.teacher, "Physics")
	s.Require().NoError(err)
	_, err = s.service.TryMatch(s.ctx, JoinRequest{SessionID: other.Session.ID, TopicID: s.topic, StudentID: s.ava.id})
	s.ErrorIs(err, ErrTopicMismatch)

	_, err = s.service.TryMatch(s.ctx, JoinRequest{SessionID: s.session, TopicID: db.NewID(), StudentID: s.ava.id})
	s.ErrorIs(err, ErrTopicNotFound)
}

func (s *CollabTestSuite) TestLeaveWaitingRoomCancelsEntry() {
	s.join(s.ava)
	s.Require().NoError(s.service.LeaveWaitingRoom(s.ctx, s.session, s.topic, s.ava.id))
	s.Require().NoError(s.service.LeaveWaitingRoom(s.ctx, s.session, s.topic, s.ava.id))

	entries := s.store.WaitingEntries()
	s.Require().Len(entries, 1)
	s.Equal(db.WaitingStatusCancelled, entries[0].Status)

	s.False(s.join(s.ben).Matched)
}

func (s *CollabTestSuite) TestTagToOutsiderIsRejected() {
	s.tutorSays("Hi")
	collabID := s.pair()

	_, err := s.service.Tag(s.ctx, collabID, s.ava.id, s.cleo.id)
	s.ErrorIs(err, ErrNotAParticipant)

	_, err = s.service.Tag(s.ctx, db.NewID(), s.ava.id, s.ben.id)
	s.ErrorIs(err, ErrCollabNotFound)
}

func (s *CollabTestSuite) TestTagBlockedAfterGrace() {
	s.tutorSays("Hi")
	collabID := s.pair()
	_, err := s.lifecycle.End(s.ctx, s.session, s.teacher)
	s.Require().NoError(err)

	within, err := s.service.Tag(s.ctx, collabID, s.ava.id, s.ben.id)
	s.Require().NoError(err)
	s.Require().NotNil(within.Warning)
	s.Equal("SESSION_ENDED_GRACE_PERIOD", within.Warning.Code)

	s.clock.Advance(3 * time.Minute)
	_, err = s.service.Tag(s.ctx, collabID, s.ben.id, s.ava.id)
	s.ErrorIs(err, lifecycle.ErrSessionEnded)
}

func (s *CollabTestSuite) TestLeaveAbandonsPairAndDemotesConversation() {
	s.tutorSays("Hi")
	collabID := s.pair()
	s.recorder.Reset()

	result, err := s.service.LeaveCollab(s.ctx, collabID, s.ava.id)
	s.Require().NoError(err)
	s.True(result.Abandoned)
	s.Equal(string(db.CollabStatusAbandoned), result.Collab.Status)
	s.Empty(result.Collab.CurrentTurn)
	s.NotNil(result.Collab.EndedAt)

	conversations := s.store.Conversations()
	s.Require().Len(conversations, 1)
	s.False(conversations[0].IsCollaborative)
	s.False(conversations[0].CollabSessionID.Valid)

	s.Equal([]string{notify.EventPartnerLeft}, s.recorder.Types(notify.StudentChannel(s.ben.String())))
	s.Equal([]string{notify.EventPartnerLeft}, s.recorder.Types(notify.CollabChannel(db.UUIDString(collabID))))

	_, err = s.service.RecordContribution(s.ctx, collabID, s.ben.id, 10, 0.5)
	s.ErrorIs(err, ErrCollabNotActive)

	again, err := s.service.LeaveCollab(s.ctx, collabID, s.ben.id)
	s.Require().NoError(err)
	s.True(again.Abandoned)
}

func (s *CollabTestSuite) TestLeaveHandsTurnToNextParticipant() {
	s.tutorSays("Hi")
	collabID := s.pair()
	s.addCleo(collabID)

	result, err := s.service.LeaveCollab(s.ctx, collabID, s.ava.id)
	s.Require().NoError(err)
	s.False(result.Abandoned)
	s.Equal(s.ben.String(), result.Collab.CurrentTurn)
	s.Equal([]string{s.ben.String(), s.cleo.String()}, result.Collab.ParticipantIDs())

	_, err = s.service.LeaveCollab(s.ctx, collabID, s.ava.id)
	s.ErrorIs(err, ErrNotAParticipant)
}

func (s *CollabTestSuite) TestLeaveByNonHolderKeepsTurn() {
	s.tutorSays("Hi")
	collabID := s.pair()
	s.addCleo(collabID)

	result, err := s.service.LeaveCollab(s.ctx, collabID, s.cleo.id)
	s.Require().NoError(err)
	s.False(result.Abandoned)
	s.Equal(s.ava.String(), result.Collab.CurrentTurn)
}

func (s *CollabTestSuite) addCleo(collabID pgtype.UUID) {
	sent, err := s.service.SendInvitation(s.ctx, InviteRequest{
		CollabSessionID: collabID,
		FromStudentID:   s.ava.id,
		ToStudentID:     s.cleo.id,
		Message:         "join us",
	})
	s.Require().NoError(err)
	id, err := db.ParseUUID(sent.Invitation.ID)
	s.Require().NoError(err)
	_, err = s.service.RespondInvitation(s.ctx, RespondRequest{InvitationID: id, ResponderID: s.cleo.id, ResponderName: s.cleo.name, Accept: true})
	s.Require().NoError(err)
}

func (s *CollabTestSuite) TestImbalanceWarnsOnce() {
	s.tutorSays("Hi")
	collabID := s.pair()

	record := func(st student) ContributionResult {
		result, err := s.service.RecordContribution(s.ctx, collabID, st.id, 12, 0.8)
		s.Require().NoError(err)
		return result
	}
	for i := 0; i < 4; i++ {
		s.False(record(s.ava).IsImbalanced)
	}
	fifth := record(s.ben)
	s.True(fifth.IsImbalanced)
	s.Equal(1, fifth.BalanceWarnings)
	s.Equal(4, fifth.Contributions[s.ava.String()].MessageCount)
	s.Equal(48, fifth.Contributions[s.ava.String()].WordCount)

	sixth := record(s.ava)
	s.True(sixth.IsImbalanced)
	s.Equal(1, sixth.BalanceWarnings)

	warnings := 0
	for _, event := range s.recorder.On(notify.CollabChannel(db.UUIDString(collabID))) {
		if event.Type == notify.EventBalanceWarning {
			warnings++
		}
	}
	s.Equal(1, warnings)
}

func (s *CollabTestSuite) TestContributionFromOutsiderIsRejected() {
	s.tutorSays("Hi")
	collabID := s.pair()

	_, err := s.service.RecordContribution(s.ctx, collabID, s.cleo.id, 3, 0.1)
	s.ErrorIs(err, ErrNotAParticipant)
	_, err = s.service.RecordContribution(s.ctx, collabID, s.ava.id, -1, 0.1)
	s.ErrorIs(err, ErrInvalidContribution)
}

func (s *CollabTestSuite) TestSendMessageStoresReplyAndCountsWords() {
	s.tutorSays("Good point")
	collabID := s.pair()
	s.recorder.Reset()

	result, err := s.service.SendMessage(s.ctx, collabID, s.ava.id, "  electrons are shared  ", 0.6)
	s.Require().NoError(err)
	s.Equal("electrons are shared", result.Message.Content)
	s.Require().NotNil(result.Reply)
	s.Equal("Good point", result.Reply.Content)
	s.Equal(3, result.Contributions[s.ava.String()].WordCount)

	s.Equal([]string{notify.EventChatMessage, notify.EventChatMessage},
		s.recorder.Types(notify.CollabChannel(db.UUIDString(collabID))))

	messages, err := s.service.Messages(s.ctx, collabID)
	s.Require().NoError(err)
	s.Len(messages, 3)
}

func (s *CollabTestSuite) TestSendMessageToleratesTutorFailure() {
	gomock.InOrder(
		s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("Hi", nil),
		s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.New("timeout")),
	)
	collabID := s.pair()

	result, err := s.service.SendMessage(s.ctx, collabID, s.ben.id, "what about ions", 0.2)
	s.Require().NoError(err)
	s.Nil(result.Reply)

	_, err = s.service.SendMessage(s.ctx, collabID, s.ben.id, "   ", 0.2)
	s.ErrorIs(err, ErrEmptyMessage)
}

func (s *CollabTestSuite) TestInvitationLifecycle() {
	s.tutorSays("Hi")
	collabID := s.pair()

	_, err := s.service.SendInvitation(s.ctx, InviteRequest{CollabSessionID: collabID, FromStudentID: s.ava.id, ToStudentID: s.ava.id})
	s.ErrorIs(err, ErrSelfInvitation)
	_, err = s.service.SendInvitation(s.ctx, InviteRequest{CollabSessionID: collabID, FromStudentID: s.ava.id, ToStudentID: s.ben.id})
	s.ErrorIs(err, ErrAlreadyParticipant)
	_, err = s.service.SendInvitation(s.ctx, InviteRequest{CollabSessionID: collabID, FromStudentID: s.cleo.id, ToStudentID: db.NewID()})
	s.ErrorIs(err, ErrNotAParticipant)

	first, err := s.service.SendInvitation(s.ctx, InviteRequest{CollabSessionID: collabID, FromStudentID: s.ava.id, ToStudentID: s.cleo.id})
	s.Require().NoError(err)
	s.Equal("Ava", first.Invitation.FromStudentName)
	s.clock.Advance(time.Minute)
	second, err := s.service.SendInvitation(s.ctx, InviteRequest{CollabSessionID: collabID, FromStudentID: s.ben.id, ToStudentID: s.cleo.id, Message: "come"})
	s.Require().NoError(err)

	pending, err := s.service.PendingInvitations(s.ctx, s.cleo.id)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second.Invitation.ID, pending[0].ID)
	s.Equal(s.clock.Now().Add(5*time.Minute), pending[0].ExpiresAt)
	s.Equal([]string{notify.EventInvitation, notify.EventInvitation}, s.recorder.Types(notify.StudentChannel(s.cleo.String())))

	id, err := db.ParseUUID(second.Invitation.ID)
	s.Require().NoError(err)
	_, err = s.service.RespondInvitation(s.ctx, RespondRequest{InvitationID: id, ResponderID: s.ava.id, Accept: true})
	s.ErrorIs(err, ErrNotInvitationTarget)

	accepted, err := s.service.RespondInvitation(s.ctx, RespondRequest{InvitationID: id, ResponderID: s.cleo.id, ResponderName: "Cleo", Accept: true})
	s.Require().NoError(err)
	s.Equal(string(db.InvitationStatusAccepted), accepted.Invitation.Status)
	s.Require().NotNil(accepted.Collab)
	s.Equal([]string{s.ava.String(), s.ben.String(), s.cleo.String()}, accepted.Collab.ParticipantIDs())
	s.Equal("Cleo", accepted.Collab.NameOf(s.cleo.String()))
	s.Equal([]string{notify.EventInvitationResponse}, s.recorder.Types(notify.StudentChannel(s.ben.String())))

	_, err = s.service.RespondInvitation(s.ctx, RespondRequest{InvitationID: id, ResponderID: s.cleo.id, Accept: false})
	s.ErrorIs(err, ErrInvitationAnswered)

	_, err = s.service.RespondInvitation(s.ctx, RespondRequest{InvitationID: db.NewID(), ResponderID: s.cleo.id})
	s.ErrorIs(err, ErrInvitationNotFound)
}

func (s *CollabTestSuite) TestExpiredInvitationCannotBeAnswered() {
	s.tutorSays("Hi")
	collabID := s.pair()
	sent, err := s.service.SendInvitation(s.ctx, InviteRequest{CollabSessionID: collabID, FromStudentID: s.ava.id, ToStudentID: s.cleo.id})
	s.Require().NoError(err)

	s.clock.Advance(5*time.Minute + time.Second)
	pending, err := s.service.PendingInvitations(s.ctx, s.cleo.id)
	s.Require().NoError(err)
	s.Empty(pending)

	id, err := db.ParseUUID(sent.Invitation.ID)
	s.Require().NoError(err)
	_, err = s.service.RespondInvitation(s.ctx, RespondRequest{InvitationID: id, ResponderID: s.cleo.id, Accept: true})
	s.ErrorIs(err, ErrInvitationExpired)
}

func (s *CollabTestSuite) TestDeclineLeavesParticipantsUntouched() {
	s.tutorSays("Hi")
	collabID := s.pair()
	sent, err := s.service.SendInvitation(s.ctx, InviteRequest{CollabSessionID: collabID, FromStudentID: s.ben.id, ToStudentID: s.cleo.id})
	s.Require().NoError(err)
	id, err := db.ParseUUID(sent.Invitation.ID)
	s.Require().NoError(err)

	declined, err := s.service.RespondInvitation(s.ctx, RespondRequest{InvitationID: id, ResponderID: s.cleo.id})
	s.Require().NoError(err)
	s.Equal(string(db.InvitationStatusDeclined), declined.Invitation.Status)
	s.Nil(declined.Collab)

	details, err := s.service.GetCollab(s.ctx, collabID)
	s.Require().NoError(err)
	s.Len(details.Participants, 2)
}

func (s *CollabTestSuite) TestCreateCollabIsIdempotent() {
	conversation, err := s.store.Querier().UpsertConversation(s.ctx, db.UpsertConversationParams{
		ID:        db.NewID(),
		SessionID: s.session,
		StudentID: s.ava.id,
		TopicID:   s.topic,
		Now:       db.Time(s.clock.Now()),
	})
	s.Require().NoError(err)

	req := CreateRequest{
		ConversationID: conversation.ID,
		SessionID:      s.session,
		Participants: []Participant{
			{StudentID: s.ava.String(), Name: "Ava"},
			{StudentID: s.ava.String(), Name: "Ava"},
		},
	}
	_, err = s.service.CreateCollab(s.ctx, req)
	s.ErrorIs(err, ErrParticipantsRequired)

	req.Participants = append(req.Participants, Participant{StudentID: s.ben.String(), Name: "Ben"})
	created, err := s.service.CreateCollab(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(s.ava.String(), created.CurrentTurn)
	s.Equal(DefaultMode, created.Mode)

	again, err := s.service.CreateCollab(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(created.ID, again.ID)
	s.Len(s.store.CollabSessions(), 1)
	s.Len(s.recorder.Types(notify.CollabChannel(created.ID)), 1)
}

func (s *CollabTestSuite) entryOf(st student) db.WaitingRoomEntry {
	for _, entry := range s.store.WaitingEntries() {
		if entry.StudentID == st.id {
			return entry
		}
	}
	s.FailNow("no waiting entry for " + st.name)
	return db.WaitingRoomEntry{}
}

// soloConversation opens a fresh conversation for st on the suite topic.
func (s *CollabTestSuite) soloConversation(st student) pgtype.UUID {
	conversation, err := s.store.Querier().UpsertConversation(s.ctx, db.UpsertConversationParams{
		ID:        db.NewID(),
		SessionID: s.session,
		StudentID: st.id,
		TopicID:   s.topic,
		Now:       db.Time(s.clock.Now()),
	})
	s.Require().NoError(err)
	return conversation.ID
}

func (s *CollabTestSuite) TestPartialLeaveReleasesOnlyLeaversEntry() {
	s.tutorSays("Hi")
	collabID := s.pair()
	s.addCleo(collabID)

	left, err := s.service.LeaveCollab(s.ctx, collabID, s.ben.id)
	s.Require().NoError(err)
	s.Require().False(left.Abandoned)

	s.Equal(db.WaitingStatusCancelled, s.entryOf(s.ben).Status)
	s.Equal(db.WaitingStatusMatched, s.entryOf(s.ava).Status)

	again := s.join(s.ben)
	s.False(again.Matched)
	s.NotEmpty(again.WaitingRoomID)
	s.Equal(db.WaitingStatusMatched, s.entryOf(s.ava).Status)
}

func (s *CollabTestSuite) TestRejoinAfterPartialLeaveFindsNewPartner() {
	s.tutorSays("Hi")
	collabID := s.pair()
	s.addCleo(collabID)
	dan := student{id: db.NewID(), name: "Dan"}

	_, err := s.service.LeaveCollab(s.ctx, collabID, s.ben.id)
	s.Require().NoError(err)

	s.clock.Advance(5 * time.Second)
	s.False(s.join(dan).Matched)
	s.clock.Advance(5 * time.Second)
	again := s.join(s.ben)

	// Ben's own conversation still backs Ava and Cleo, so the new pair
	// lives on Dan's.
	s.Require().True(again.Matched)
	s.NotEqual(db.UUIDString(collabID), again.CollabSessionID)
	s.Require().NotNil(again.Partner)
	s.Equal("Dan", again.Partner.Name)
	s.Equal(dan.String(), again.CurrentTurn)

	old, err := s.service.GetCollab(s.ctx, collabID)
	s.Require().NoError(err)
	s.Equal(string(db.CollabStatusActive), old.Status)
	s.Equal([]string{s.ava.String(), s.cleo.String()}, old.ParticipantIDs())
	s.NotEqual(old.ConversationID, again.ConversationID)

	s.Equal(db.WaitingStatusMatched, s.entryOf(s.ava).Status)
	s.Equal(db.WaitingStatusMatched, s.entryOf(dan).Status)
	s.Equal(db.WaitingStatusMatched, s.entryOf(s.ben).Status)

	newID, err := db.ParseUUID(again.CollabSessionID)
	s.Require().NoError(err)
	_, err = s.service.Tag(s.ctx, newID, dan.id, s.ben.id)
	s.NoError(err)
}

func (s *CollabTestSuite) TestStaleMatchReleasesOnlyCallersEntry() {
	s.tutorSays("Hi")
	collabID := s.pair()
	s.addCleo(collabID)
	_, err := s.service.LeaveCollab(s.ctx, collabID, s.ben.id)
	s.Require().NoError(err)

	// An entry still pointing at a collaboration Ben has left.
	benEntry := s.entryOf(s.ben)
	err = s.store.Querier().MarkWaitingEntryMatched(s.ctx, db.MarkWaitingEntryMatchedParams{
		ID:              benEntry.ID,
		MatchedWith:     s.ava.id,
		CollabSessionID: collabID,
		ConversationID:  s.entryOf(s.ava).ConversationID,
		UpdatedAt:       db.Time(s.clock.Now()),
	})
	s.Require().NoError(err)

	again := s.join(s.ben)
	s.False(again.Matched)
	s.Equal(db.WaitingStatusWaiting, s.entryOf(s.ben).Status)
	s.Equal(db.WaitingStatusMatched, s.entryOf(s.ava).Status)
}

func (s *CollabTestSuite) TestJoinAttachesToCollabOnOwnConversation() {
	s.tutorSays("Hi")
	created, err := s.service.CreateCollab(s.ctx, CreateRequest{
		ConversationID: s.soloConversation(s.ava),
		SessionID:      s.session,
		Participants: []Participant{
			{StudentID: s.ava.String(), Name: "Ava"},
			{StudentID: s.ben.String(), Name: "Ben"},
		},
	})
	s.Require().NoError(err)

	s.False(s.join(s.cleo).Matched)
	s.clock.Advance(5 * time.Second)
	result := s.join(s.ava)

	s.Require().True(result.Matched)
	s.Equal(created.ID, result.CollabSessionID)
	s.Require().NotNil(result.Partner)
	s.Equal("Ben", result.Partner.Name)
	s.Len(s.store.CollabSessions(), 1)
	s.Equal(db.WaitingStatusMatched, s.entryOf(s.ava).Status)
	s.Equal(db.WaitingStatusWaiting, s.entryOf(s.cleo).Status)
}

func (s *CollabTestSuite) TestJoinWaitsWhenBothConversationsAreTaken() {
	s.tutorSays("Hi")
	collabID := s.pair()
	s.addCleo(collabID)
	_, err := s.service.LeaveCollab(s.ctx, collabID, s.ben.id)
	s.Require().NoError(err)

	dan := student{id: db.NewID(), name: "Dan"}
	eve := student{id: db.NewID(), name: "Eve"}
	finn := student{id: db.NewID(), name: "Finn"}
	other, err := s.service.CreateCollab(s.ctx, CreateRequest{
		ConversationID: s.soloConversation(dan),
		SessionID:      s.session,
		Participants: []Participant{
			{StudentID: dan.String(), Name: "Dan"},
			{StudentID: eve.String(), Name: "Eve"},
			{StudentID: finn.String(), Name: "Finn"},
		},
	})
	s.Require().NoError(err)
	otherID, err := db.ParseUUID(other.ID)
	s.Require().NoError(err)
	_, err = s.service.LeaveCollab(s.ctx, otherID, dan.id)
	s.Require().NoError(err)

	s.False(s.join(dan).Matched)
	s.clock.Advance(5 * time.Second)
	result := s.join(s.ben)

	s.False(result.Matched)
	s.NotEmpty(result.WaitingRoomID)
	s.Len(s.store.CollabSessions(), 2)
	s.Equal(db.WaitingStatusWaiting, s.entryOf(s.ben).Status)
	s.Equal(db.WaitingStatusWaiting, s.entryOf(dan).Status)
}

func (s *CollabTestSuite) TestCreateCollabRequiresConversationOwner() {
	_, err := s.service.CreateCollab(s.ctx, CreateRequest{
		ConversationID: s.soloConversation(s.ava),
		SessionID:      s.session,
		Participants: []Participant{
			{StudentID: s.ben.String(), Name: "Ben"},
			{StudentID: s.cleo.String(), Name: "Cleo"},
		},
	})
	s.ErrorIs(err, ErrNotConversationOwner)
	s.Empty(s.store.CollabSessions())
}
