package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const conversationColumns = `id, session_id, student_id, topic_id, is_collaborative, collab_session_id, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var i Conversation
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.StudentID,
		&i.TopicID,
		&i.IsCollaborative,
		&i.CollabSessionID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertConversation = `-- name: UpsertConversation :one
INSERT INTO conversations (id, session_id, student_id, topic_id, is_collaborative, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (session_id, student_id, topic_id) DO UPDATE SET
    is_collaborative = EXCLUDED.is_collaborative,
    updated_at = EXCLUDED.updated_at
RETURNING ` + conversationColumns

type UpsertConversationParams struct {
	ID              pgtype.UUID
	SessionID       pgtype.UUID
	StudentID       pgtype.UUID
	TopicID         pgtype.UUID
	IsCollaborative bool
	Now             pgtype.Timestamptz
}

func (q *Queries) UpsertConversation(ctx context.Context, arg UpsertConversationParams) (Conversation, error) {
	row := q.db.QueryRow(ctx, upsertConversation,
		arg.ID,
		arg.SessionID,
		arg.StudentID,
		arg.TopicID,
		arg.IsCollaborative,
		arg.Now,
	)
	return scanConversation(row)
}

const getConversation = `-- name: GetConversation :one
SELECT ` + conversationColumns + `
FROM conversations
WHERE id = $1`

func (q *Queries) GetConversation(ctx context.Context, id pgtype.UUID) (Conversation, error) {
	return scanConversation(q.db.QueryRow(ctx, getConversation, id))
}

const setConversationCollab = `-- name: SetConversationCollab :exec
UPDATE conversations
SET is_collaborative = $2,
    collab_session_id = $3,
    updated_at = $4
WHERE id = $1`

type SetConversationCollabParams struct {
	ID              pgtype.UUID
	IsCollaborative bool
	CollabSessionID pgtype.UUID
	UpdatedAt       pgtype.Timestamptz
}

func (q *Queries) SetConversationCollab(ctx context.Context, arg SetConversationCollabParams) error {
	_, err := q.db.Exec(ctx, setConversationCollab, arg.ID, arg.IsCollaborative, arg.CollabSessionID, arg.UpdatedAt)
	return err
}

const conversationMessageColumns = `id, conversation_id, role, student_id, content, created_at`

func scanConversationMessage(row interface{ Scan(...any) error }) (ConversationMessage, error) {
	var i ConversationMessage
	err := row.Scan(&i.ID, &i.ConversationID, &i.Role, &i.StudentID, &i.Content, &i.CreatedAt)
	return i, err
}

const insertConversationMessage = `-- name: InsertConversationMessage :one
INSERT INTO conversation_messages (id, conversation_id, role, student_id, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + conversationMessageColumns

type InsertConversationMessageParams struct {
	ID             pgtype.UUID
	ConversationID pgtype.UUID
	Role           MessageRole
	StudentID      pgtype.UUID
	Content        string
	CreatedAt      pgtype.Timestamptz
}

func (q *Queries) InsertConversationMessage(ctx context.Context, arg InsertConversationMessageParams) (ConversationMessage, error) {
	row := q.db.QueryRow(ctx, insertConversationMessage,
		arg.ID,
		arg.ConversationID,
		arg.Role,
		arg.StudentID,
		arg.Content,
		arg.CreatedAt,
	)
	return scanConversationMessage(row)
}

// Returns the most recent messages, oldest first.
const listConversationMessages = `-- name: ListConversationMessages :many
SELECT ` + conversationMessageColumns + `
FROM (
    SELECT ` + conversationMessageColumns + `
    FROM conversation_messages
    WHERE conversation_id = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2
) recent
ORDER BY created_at ASC, id ASC`

type ListConversationMessagesParams struct {
	ConversationID pgtype.UUID
	Limit          int32
}

func (q *Queries) ListConversationMessages(ctx context.Context, arg ListConversationMessagesParams) ([]ConversationMessage, error) {
	rows, err := q.db.Query(ctx, listConversationMessages, arg.ConversationID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConversationMessage
	for rows.Next() {
		i, err := scanConversationMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
