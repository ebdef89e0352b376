package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusPaused SessionStatus = "paused"
	SessionStatusEnded  SessionStatus = "ended"
)

type WaitingStatus string

const (
	WaitingStatusWaiting   WaitingStatus = "waiting"
	WaitingStatusMatched   WaitingStatus = "matched"
	WaitingStatusCancelled WaitingStatus = "cancelled"
)

type CollabStatus string

const (
	CollabStatusActive    CollabStatus = "active"
	CollabStatusAbandoned CollabStatus = "abandoned"
	CollabStatusCompleted CollabStatus = "completed"
)

type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusDeclined InvitationStatus = "declined"
)

type MessageRole string

const (
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleStudent   MessageRole = "student"
)

type ClassSession struct {
	ID                pgtype.UUID
	TeacherID         pgtype.UUID
	Title             string
	Status            SessionStatus
	PausedAt          pgtype.Timestamptz
	EndedAt           pgtype.Timestamptz
	GracePeriodEndsAt pgtype.Timestamptz
	CreatedAt         pgtype.Timestamptz
	UpdatedAt         pgtype.Timestamptz
}

type SessionInstance struct {
	ID             pgtype.UUID
	SessionID      pgtype.UUID
	InstanceNumber int32
	IsCurrent      bool
	StartedAt      pgtype.Timestamptz
	EndedAt        pgtype.Timestamptz
}

type Topic struct {
	ID          pgtype.UUID
	SessionID   pgtype.UUID
	Title       string
	Description string
	CreatedAt   pgtype.Timestamptz
}

type Conversation struct {
	ID              pgtype.UUID
	SessionID       pgtype.UUID
	StudentID       pgtype.UUID
	TopicID         pgtype.UUID
	IsCollaborative bool
	CollabSessionID pgtype.UUID
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type ConversationMessage struct {
	ID             pgtype.UUID
	ConversationID pgtype.UUID
	Role           MessageRole
	StudentID      pgtype.UUID
	Content        string
	CreatedAt      pgtype.Timestamptz
}

type CollaborativeSession struct {
	ID                   pgtype.UUID
	ConversationID       pgtype.UUID
	SessionID            pgtype.UUID
	TopicID              pgtype.UUID
	Mode                 string
	ParticipantIds       []pgtype.UUID
	ParticipantNames     []byte
	CurrentTurnStudentID pgtype.UUID
	TurnCount            int32
	Contributions        []byte
	IsImbalanced         bool
	BalanceWarnings      int32
	Status               CollabStatus
	CreatedAt            pgtype.Timestamptz
	UpdatedAt            pgtype.Timestamptz
	EndedAt              pgtype.Timestamptz
}

type WaitingRoomEntry struct {
	ID              pgtype.UUID
	SessionID       pgtype.UUID
	TopicID         pgtype.UUID
	StudentID       pgtype.UUID
	StudentName     string
	PreferredMode   string
	Status          WaitingStatus
	MatchedWith     pgtype.UUID
	CollabSessionID pgtype.UUID
	ConversationID  pgtype.UUID
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
	ExpiresAt       pgtype.Timestamptz
}

type CollabInvitation struct {
	ID              pgtype.UUID
	CollabSessionID pgtype.UUID
	FromStudentID   pgtype.UUID
	FromStudentName string
	ToStudentID     pgtype.UUID
	Message         string
	Status          InvitationStatus
	CreatedAt       pgtype.Timestamptz
	ExpiresAt       pgtype.Timestamptz
	RespondedAt     pgtype.Timestamptz
}
