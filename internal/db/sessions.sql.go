package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const classSessionColumns = `id, teacher_id, title, status, paused_at, ended_at, grace_period_ends_at, created_at, updated_at`

const classSessionColumnsS = `s.id, s.teacher_id, s.title, s.status, s.paused_at, s.ended_at, s.grace_period_ends_at, s.created_at, s.updated_at`

func scanClassSession(row interface{ Scan(...any) error }) (ClassSession, error) {
	var i ClassSession
	err := row.Scan(
		&i.ID,
		&i.TeacherID,
		&i.Title,
		&i.Status,
		&i.PausedAt,
		&i.EndedAt,
		&i.GracePeriodEndsAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createClassSession = `-- name: CreateClassSession :one
INSERT INTO class_sessions (id, teacher_id, title, status, created_at, updated_at)
VALUES ($1, $2, $3, 'active', $4, $4)
RETURNING ` + classSessionColumns

type CreateClassSessionParams struct {
	ID        pgtype.UUID
	TeacherID pgtype.UUID
	Title     string
	CreatedAt pgtype.Timestamptz
}

func (q *Queries) CreateClassSession(ctx context.Context, arg CreateClassSessionParams) (ClassSession, error) {
	row := q.db.QueryRow(ctx, createClassSession, arg.ID, arg.TeacherID, arg.Title, arg.CreatedAt)
	return scanClassSession(row)
}

const getClassSession = `-- name: GetClassSession :one
SELECT ` + classSessionColumns + `
FROM class_sessions
WHERE id = $1`

func (q *Queries) GetClassSession(ctx context.Context, id pgtype.UUID) (ClassSession, error) {
	return scanClassSession(q.db.QueryRow(ctx, getClassSession, id))
}

const getClassSessionForUpdate = `-- name: GetClassSessionForUpdate :one
SELECT ` + classSessionColumns + `
FROM class_sessions
WHERE id = $1
FOR UPDATE`

func (q *Queries) GetClassSessionForUpdate(ctx context.Context, id pgtype.UUID) (ClassSession, error) {
	return scanClassSession(q.db.QueryRow(ctx, getClassSessionForUpdate, id))
}

const getClassSessionByConversation = `-- name: GetClassSessionByConversation :one
SELECT ` + classSessionColumnsS + `
FROM class_sessions s
JOIN conversations c ON c.session_id = s.id
WHERE c.id = $1`

func (q *Queries) GetClassSessionByConversation(ctx context.Context, conversationID pgtype.UUID) (ClassSession, error) {
	return scanClassSession(q.db.QueryRow(ctx, getClassSessionByConversation, conversationID))
}

const getClassSessionByCollab = `-- name: GetClassSessionByCollab :one
SELECT ` + classSessionColumnsS + `
FROM class_sessions s
JOIN collaborative_sessions cs ON cs.session_id = s.id
WHERE cs.id = $1`

func (q *Queries) GetClassSessionByCollab(ctx context.Context, collabSessionID pgtype.UUID) (ClassSession, error) {
	return scanClassSession(q.db.QueryRow(ctx, getClassSessionByCollab, collabSessionID))
}

const updateClassSessionStatus = `-- name: UpdateClassSessionStatus :one
UPDATE class_sessions
SET status = $2,
    paused_at = $3,
    ended_at = $4,
    grace_period_ends_at = $5,
    updated_at = $6
WHERE id = $1
RETURNING ` + classSessionColumns

type UpdateClassSessionStatusParams struct {
	ID                pgtype.UUID
	Status            SessionStatus
	PausedAt          pgtype.Timestamptz
	EndedAt           pgtype.Timestamptz
	GracePeriodEndsAt pgtype.Timestamptz
	UpdatedAt         pgtype.Timestamptz
}

func (q *Queries) UpdateClassSessionStatus(ctx context.Context, arg UpdateClassSessionStatusParams) (ClassSession, error) {
	row := q.db.QueryRow(ctx, updateClassSessionStatus,
		arg.ID,
		arg.Status,
		arg.PausedAt,
		arg.EndedAt,
		arg.GracePeriodEndsAt,
		arg.UpdatedAt,
	)
	return scanClassSession(row)
}

const sessionInstanceColumns = `id, session_id, instance_number, is_current, started_at, ended_at`

func scanSessionInstance(row interface{ Scan(...any) error }) (SessionInstance, error) {
	var i SessionInstance
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.InstanceNumber,
		&i.IsCurrent,
		&i.StartedAt,
		&i.EndedAt,
	)
	return i, err
}

const createSessionInstance = `-- name: CreateSessionInstance :one
INSERT INTO session_instances (id, session_id, instance_number, is_current, started_at)
SELECT $1::uuid, $2::uuid, COALESCE(MAX(instance_number), 0) + 1, true, $3::timestamptz
FROM session_instances
WHERE session_id = $2::uuid
RETURNING ` + sessionInstanceColumns

type CreateSessionInstanceParams struct {
	ID        pgtype.UUID
	SessionID pgtype.UUID
	StartedAt pgtype.Timestamptz
}

func (q *Queries) CreateSessionInstance(ctx context.Context, arg CreateSessionInstanceParams) (SessionInstance, error) {
	row := q.db.QueryRow(ctx, createSessionInstance, arg.ID, arg.SessionID, arg.StartedAt)
	return scanSessionInstance(row)
}

const supersedeCurrentInstance = `-- name: SupersedeCurrentInstance :exec
UPDATE session_instances
SET is_current = false,
    ended_at = $2
WHERE session_id = $1 AND is_current`

type SupersedeCurrentInstanceParams struct {
	SessionID pgtype.UUID
	EndedAt   pgtype.Timestamptz
}

func (q *Queries) SupersedeCurrentInstance(ctx context.Context, arg SupersedeCurrentInstanceParams) error {
	_, err := q.db.Exec(ctx, supersedeCurrentInstance, arg.SessionID, arg.EndedAt)
	return err
}

const getCurrentInstance = `-- name: GetCurrentInstance :one
SELECT ` + sessionInstanceColumns + `
FROM session_instances
WHERE session_id = $1 AND is_current`

func (q *Queries) GetCurrentInstance(ctx context.Context, sessionID pgtype.UUID) (SessionInstance, error) {
	return scanSessionInstance(q.db.QueryRow(ctx, getCurrentInstance, sessionID))
}

const topicColumns = `id, session_id, title, description, created_at`

func scanTopic(row interface{ Scan(...any) error }) (Topic, error) {
	var i Topic
	err := row.Scan(&i.ID, &i.SessionID, &i.Title, &i.Description, &i.CreatedAt)
	return i, err
}

const createTopic = `-- name: CreateTopic :one
INSERT INTO topics (id, session_id, title, description, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + topicColumns

type CreateTopicParams struct {
	ID          pgtype.UUID
	SessionID   pgtype.UUID
	Title       string
	Description string
	CreatedAt   pgtype.Timestamptz
}

func (q *Queries) CreateTopic(ctx context.Context, arg CreateTopicParams) (Topic, error) {
	row := q.db.QueryRow(ctx, createTopic, arg.ID, arg.SessionID, arg.Title, arg.Description, arg.CreatedAt)
	return scanTopic(row)
}

const getTopic = `-- name: GetTopic :one
SELECT ` + topicColumns + `
FROM topics
WHERE id = $1`

func (q *Queries) GetTopic(ctx context.Context, id pgtype.UUID) (Topic, error) {
	return scanTopic(q.db.QueryRow(ctx, getTopic, id))
}

const listTopicsBySession = `-- name: ListTopicsBySession :many
SELECT ` + topicColumns + `
FROM topics
WHERE session_id = $1
ORDER BY created_at ASC`

func (q *Queries) ListTopicsBySession(ctx context.Context, sessionID pgtype.UUID) ([]Topic, error) {
	rows, err := q.db.Query(ctx, listTopicsBySession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Topic
	for rows.Next() {
		i, err := scanTopic(rows)
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
