package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const collabSessionColumns = `id, conversation_id, session_id, topic_id, mode, participant_ids, participant_names, current_turn_student_id, turn_count, contributions, is_imbalanced, balance_warnings, status, created_at, updated_at, ended_at`

func scanCollaborativeSession(row interface{ Scan(...any) error }) (CollaborativeSession, error) {
	var i CollaborativeSession
	err := row.Scan(
		&i.ID,
		&i.ConversationID,
		&i.SessionID,
		&i.TopicID,
		&i.Mode,
		&i.ParticipantIds,
		&i.ParticipantNames,
		&i.CurrentTurnStudentID,
		&i.TurnCount,
		&i.Contributions,
		&i.IsImbalanced,
		&i.BalanceWarnings,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.EndedAt,
	)
	return i, err
}

// An active row is left untouched, in which case no row is returned.
const upsertCollabSession = `-- name: UpsertCollabSession :one
INSERT INTO collaborative_sessions (
    id, conversation_id, session_id, topic_id, mode, participant_ids, participant_names,
    current_turn_student_id, turn_count, contributions, is_imbalanced, balance_warnings, status,
    created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, '{}'::jsonb, false, 0, 'active', $9, $9)
ON CONFLICT (conversation_id) DO UPDATE SET
    mode = EXCLUDED.mode,
    participant_ids = EXCLUDED.participant_ids,
    participant_names = EXCLUDED.participant_names,
    current_turn_student_id = EXCLUDED.current_turn_student_id,
    turn_count = 0,
    contributions = '{}'::jsonb,
    is_imbalanced = false,
    balance_warnings = 0,
    status = 'active',
    updated_at = EXCLUDED.updated_at,
    ended_at = NULL
WHERE collaborative_sessions.status <> 'active'
RETURNING ` + collabSessionColumns

type UpsertCollabSessionParams struct {
	ID                   pgtype.UUID
	ConversationID       pgtype.UUID
	SessionID            pgtype.UUID
	TopicID              pgtype.UUID
	Mode                 string
	ParticipantIds       []pgtype.UUID
	ParticipantNames     []byte
	CurrentTurnStudentID pgtype.UUID
	Now                  pgtype.Timestamptz
}

func (q *Queries) UpsertCollabSession(ctx context.Context, arg UpsertCollabSessionParams) (CollaborativeSession, error) {
	row := q.db.QueryRow(ctx, upsertCollabSession,
		arg.ID,
		arg.ConversationID,
		arg.SessionID,
		arg.TopicID,
		arg.Mode,
		arg.ParticipantIds,
		arg.ParticipantNames,
		arg.CurrentTurnStudentID,
		arg.Now,
	)
	return scanCollaborativeSession(row)
}

const getCollabSession = `-- name: GetCollabSession :one
SELECT ` + collabSessionColumns + `
FROM collaborative_sessions
WHERE id = $1`

func (q *Queries) GetCollabSession(ctx context.Context, id pgtype.UUID) (CollaborativeSession, error) {
	return scanCollaborativeSession(q.db.QueryRow(ctx, getCollabSession, id))
}

const getCollabSessionForUpdate = `-- name: GetCollabSessionForUpdate :one
SELECT ` + collabSessionColumns + `
FROM collaborative_sessions
WHERE id = $1
FOR UPDATE`

func (q *Queries) GetCollabSessionForUpdate(ctx context.Context, id pgtype.UUID) (CollaborativeSession, error) {
	return scanCollaborativeSession(q.db.QueryRow(ctx, getCollabSessionForUpdate, id))
}

const getCollabSessionByConversation = `-- name: GetCollabSessionByConversation :one
SELECT ` + collabSessionColumns + `
FROM collaborative_sessions
WHERE conversation_id = $1`

func (q *Queries) GetCollabSessionByConversation(ctx context.Context, conversationID pgtype.UUID) (CollaborativeSession, error) {
	return scanCollaborativeSession(q.db.QueryRow(ctx, getCollabSessionByConversation, conversationID))
}

// Compare-and-set on the turn holder: no row is returned unless the session
// is active, FromStudentID holds the turn and ToStudentID participates.
const passCollabTurn = `-- name: PassCollabTurn :one
UPDATE collaborative_sessions
SET current_turn_student_id = $3,
    turn_count = turn_count + 1,
    updated_at = $4
WHERE id = $1
  AND status = 'active'
  AND current_turn_student_id = $2
  AND $3 = ANY(participant_ids)
RETURNING ` + collabSessionColumns

type PassCollabTurnParams struct {
	ID            pgtype.UUID
	FromStudentID pgtype.UUID
	ToStudentID   pgtype.UUID
	UpdatedAt     pgtype.Timestamptz
}

func (q *Queries) PassCollabTurn(ctx context.Context, arg PassCollabTurnParams) (CollaborativeSession, error) {
	row := q.db.QueryRow(ctx, passCollabTurn, arg.ID, arg.FromStudentID, arg.ToStudentID, arg.UpdatedAt)
	return scanCollaborativeSession(row)
}

const updateCollabParticipants = `-- name: UpdateCollabParticipants :one
UPDATE collaborative_sessions
SET participant_ids = $2,
    participant_names = $3,
    current_turn_student_id = $4,
    status = $5,
    ended_at = $6,
    updated_at = $7
WHERE id = $1
RETURNING ` + collabSessionColumns

type UpdateCollabParticipantsParams struct {
	ID                   pgtype.UUID
	ParticipantIds       []pgtype.UUID
	ParticipantNames     []byte
	CurrentTurnStudentID pgtype.UUID
	Status               CollabStatus
	EndedAt              pgtype.Timestamptz
	UpdatedAt            pgtype.Timestamptz
}

func (q *Queries) UpdateCollabParticipants(ctx context.Context, arg UpdateCollabParticipantsParams) (CollaborativeSession, error) {
	row := q.db.QueryRow(ctx, updateCollabParticipants,
		arg.ID,
		arg.ParticipantIds,
		arg.ParticipantNames,
		arg.CurrentTurnStudentID,
		arg.Status,
		arg.EndedAt,
		arg.UpdatedAt,
	)
	return scanCollaborativeSession(row)
}

const updateCollabContributions = `-- name: UpdateCollabContributions :one
UPDATE collaborative_sessions
SET contributions = $2,
    is_imbalanced = $3,
    balance_warnings = $4,
    updated_at = $5
WHERE id = $1
RETURNING ` + collabSessionColumns

type UpdateCollabContributionsParams struct {
	ID              pgtype.UUID
	Contributions   []byte
	IsImbalanced    bool
	BalanceWarnings int32
	UpdatedAt       pgtype.Timestamptz
}

func (q *Queries) UpdateCollabContributions(ctx context.Context, arg UpdateCollabContributionsParams) (CollaborativeSession, error) {
	row := q.db.QueryRow(ctx, updateCollabContributions,
		arg.ID,
		arg.Contributions,
		arg.IsImbalanced,
		arg.BalanceWarnings,
		arg.UpdatedAt,
	)
	return scanCollaborativeSession(row)
}
