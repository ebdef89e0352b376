package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	// class sessions
	CreateClassSession(ctx context.Context, arg CreateClassSessionParams) (ClassSession, error)
	GetClassSession(ctx context.Context, id pgtype.UUID) (ClassSession, error)
	GetClassSessionForUpdate(ctx context.Context, id pgtype.UUID) (ClassSession, error)
	GetClassSessionByConversation(ctx context.Context, conversationID pgtype.UUID) (ClassSession, error)
	GetClassSessionByCollab(ctx context.Context, collabSessionID pgtype.UUID) (ClassSession, error)
	UpdateClassSessionStatus(ctx context.Context, arg UpdateClassSessionStatusParams) (ClassSession, error)
	CreateSessionInstance(ctx context.Context, arg CreateSessionInstanceParams) (SessionInstance, error)
	SupersedeCurrentInstance(ctx context.Context, arg SupersedeCurrentInstanceParams) error
	GetCurrentInstance(ctx context.Context, sessionID pgtype.UUID) (SessionInstance, error)

	// topics
	CreateTopic(ctx context.Context, arg CreateTopicParams) (Topic, error)
	GetTopic(ctx context.Context, id pgtype.UUID) (Topic, error)
	ListTopicsBySession(ctx context.Context, sessionID pgtype.UUID) ([]Topic, error)

	// waiting room
	AcquireMatchLock(ctx context.Context, key string) error
	UpsertWaitingEntry(ctx context.Context, arg UpsertWaitingEntryParams) (WaitingRoomEntry, error)
	GetWaitingEntry(ctx context.Context, arg GetWaitingEntryParams) (WaitingRoomEntry, error)
	FindWaitingPartner(ctx context.Context, arg FindWaitingPartnerParams) (WaitingRoomEntry, error)
	ListWaitingPartners(ctx context.Context, arg ListWaitingPartnersParams) ([]WaitingRoomEntry, error)
	MarkWaitingEntryMatched(ctx context.Context, arg MarkWaitingEntryMatchedParams) error
	CancelWaitingEntry(ctx context.Context, arg CancelWaitingEntryParams) (int64, error)
	ReleaseWaitingEntriesForCollab(ctx context.Context, arg ReleaseWaitingEntriesForCollabParams) (int64, error)
	ReleaseStudentWaitingEntry(ctx context.Context, arg ReleaseStudentWaitingEntryParams) (int64, error)
	CancelExpiredWaitingEntries(ctx context.Context, now pgtype.Timestamptz) (int64, error)

	// conversations
	UpsertConversation(ctx context.Context, arg UpsertConversationParams) (Conversation, error)
	GetConversation(ctx context.Context, id pgtype.UUID) (Conversation, error)
	SetConversationCollab(ctx context.Context, arg SetConversationCollabParams) error
	InsertConversationMessage(ctx context.Context, arg InsertConversationMessageParams) (ConversationMessage, error)
	ListConversationMessages(ctx context.Context, arg ListConversationMessagesParams) ([]ConversationMessage, error)

	// collaborative sessions
	UpsertCollabSession(ctx context.Context, arg UpsertCollabSessionParams) (CollaborativeSession, error)
	GetCollabSession(ctx context.Context, id pgtype.UUID) (CollaborativeSession, error)
	GetCollabSessionForUpdate(ctx context.Context, id pgtype.UUID) (CollaborativeSession, error)
	GetCollabSessionByConversation(ctx context.Context, conversationID pgtype.UUID) (CollaborativeSession, error)
	PassCollabTurn(ctx context.Context, arg PassCollabTurnParams) (CollaborativeSession, error)
	UpdateCollabParticipants(ctx context.Context, arg UpdateCollabParticipantsParams) (CollaborativeSession, error)
	UpdateCollabContributions(ctx context.Context, arg UpdateCollabContributionsParams) (CollaborativeSession, error)

	// invitations
	UpsertInvitation(ctx context.Context, arg UpsertInvitationParams) (CollabInvitation, error)
	GetInvitation(ctx context.Context, id pgtype.UUID) (CollabInvitation, error)
	RespondInvitation(ctx context.Context, arg RespondInvitationParams) (CollabInvitation, error)
	ListPendingInvitations(ctx context.Context, arg ListPendingInvitationsParams) ([]CollabInvitation, error)
}

var _ Querier = (*Queries)(nil)
