package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const waitingRoomEntryColumns = `id, session_id, topic_id, student_id, student_name, preferred_mode, status, matched_with, collab_session_id, conversation_id, created_at, updated_at, expires_at`

func scanWaitingRoomEntry(row interface{ Scan(...any) error }) (WaitingRoomEntry, error) {
	var i WaitingRoomEntry
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.TopicID,
		&i.StudentID,
		&i.StudentName,
		&i.PreferredMode,
		&i.Status,
		&i.MatchedWith,
		&i.CollabSessionID,
		&i.ConversationID,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ExpiresAt,
	)
	return i, err
}

const acquireMatchLock = `-- name: AcquireMatchLock :exec
SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`

// AcquireMatchLock serialises matchmaking for one key until the surrounding
// transaction ends. Outside a transaction the lock is released immediately.
func (q *Queries) AcquireMatchLock(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, acquireMatchLock, key)
	return err
}

// A matched row that still points at a collaborative session is left
// untouched, in which case no row is returned.
const upsertWaitingEntry = `-- name: UpsertWaitingEntry :one
INSERT INTO waiting_room_entries (
    id, session_id, topic_id, student_id, student_name, preferred_mode, status, created_at, updated_at, expires_at
) VALUES ($1, $2, $3, $4, $5, $6, 'waiting', $7, $7, $8)
ON CONFLICT (session_id, topic_id, student_id) DO UPDATE SET
    student_name = EXCLUDED.student_name,
    preferred_mode = EXCLUDED.preferred_mode,
    created_at = CASE
        WHEN waiting_room_entries.status = 'waiting' AND waiting_room_entries.expires_at > EXCLUDED.created_at
            THEN waiting_room_entries.created_at
        ELSE EXCLUDED.created_at
    END,
    status = 'waiting',
    matched_with = NULL,
    collab_session_id = NULL,
    conversation_id = NULL,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE waiting_room_entries.status <> 'matched' OR waiting_room_entries.collab_session_id IS NULL
RETURNING ` + waitingRoomEntryColumns

type UpsertWaitingEntryParams struct {
	ID            pgtype.UUID
	SessionID     pgtype.UUID
	TopicID       pgtype.UUID
	StudentID     pgtype.UUID
	StudentName   string
	PreferredMode string
	Now           pgtype.Timestamptz
	ExpiresAt     pgtype.Timestamptz
}

func (q *Queries) UpsertWaitingEntry(ctx context.Context, arg UpsertWaitingEntryParams) (WaitingRoomEntry, error) {
	row := q.db.QueryRow(ctx, upsertWaitingEntry,
		arg.ID,
		arg.SessionID,
		arg.TopicID,
		arg.StudentID,
		arg.StudentName,
		arg.PreferredMode,
		arg.Now,
		arg.ExpiresAt,
	)
	return scanWaitingRoomEntry(row)
}

const getWaitingEntry = `-- name: GetWaitingEntry :one
SELECT ` + waitingRoomEntryColumns + `
FROM waiting_room_entries
WHERE session_id = $1 AND topic_id = $2 AND student_id = $3`

type GetWaitingEntryParams struct {
	SessionID pgtype.UUID
	TopicID   pgtype.UUID
	StudentID pgtype.UUID
}

func (q *Queries) GetWaitingEntry(ctx context.Context, arg GetWaitingEntryParams) (WaitingRoomEntry, error) {
	row := q.db.QueryRow(ctx, getWaitingEntry, arg.SessionID, arg.TopicID, arg.StudentID)
	return scanWaitingRoomEntry(row)
}

const findWaitingPartner = `-- name: FindWaitingPartner :one
SELECT ` + waitingRoomEntryColumns + `
FROM waiting_room_entries
WHERE session_id = $1
  AND topic_id = $2
  AND student_id <> $3
  AND status = 'waiting'
  AND expires_at > $4
ORDER BY created_at ASC, id ASC
LIMIT 1
FOR UPDATE`

type FindWaitingPartnerParams struct {
	SessionID        pgtype.UUID
	TopicID          pgtype.UUID
	ExcludeStudentID pgtype.UUID
	Now              pgtype.Timestamptz
}

func (q *Queries) FindWaitingPartner(ctx context.Context, arg FindWaitingPartnerParams) (WaitingRoomEntry, error) {
	row := q.db.QueryRow(ctx, findWaitingPartner, arg.SessionID, arg.TopicID, arg.ExcludeStudentID, arg.Now)
	return scanWaitingRoomEntry(row)
}

const listWaitingPartners = `-- name: ListWaitingPartners :many
SELECT ` + waitingRoomEntryColumns + `
FROM waiting_room_entries
WHERE session_id = $1
  AND topic_id = $2
  AND student_id <> $3
  AND status = 'waiting'
  AND expires_at > $4
ORDER BY created_at ASC, id ASC
LIMIT $5`

type ListWaitingPartnersParams struct {
	SessionID        pgtype.UUID
	TopicID          pgtype.UUID
	ExcludeStudentID pgtype.UUID
	Now              pgtype.Timestamptz
	Limit            int32
}

func (q *Queries) ListWaitingPartners(ctx context.Context, arg ListWaitingPartnersParams) ([]WaitingRoomEntry, error) {
	rows, err := q.db.Query(ctx, listWaitingPartners, arg.SessionID, arg.TopicID, arg.ExcludeStudentID, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WaitingRoomEntry
	for rows.Next() {
		i, err := scanWaitingRoomEntry(rows)
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

const markWaitingEntryMatched = `-- name: MarkWaitingEntryMatched :exec
UPDATE waiting_room_entries
SET status = 'matched',
    matched_with = $2,
    collab_session_id = $3,
    conversation_id = $4,
    updated_at = $5
WHERE id = $1`

type MarkWaitingEntryMatchedParams struct {
	ID              pgtype.UUID
	MatchedWith     pgtype.UUID
	CollabSessionID pgtype.UUID
	ConversationID  pgtype.UUID
	UpdatedAt       pgtype.Timestamptz
}

func (q *Queries) MarkWaitingEntryMatched(ctx context.Context, arg MarkWaitingEntryMatchedParams) error {
	_, err := q.db.Exec(ctx, markWaitingEntryMatched,
		arg.ID,
		arg.MatchedWith,
		arg.CollabSessionID,
		arg.ConversationID,
		arg.UpdatedAt,
	)
	return err
}

const cancelWaitingEntry = `-- name: CancelWaitingEntry :execrows
UPDATE waiting_room_entries
SET status = 'cancelled',
    updated_at = $4
WHERE session_id = $1 AND topic_id = $2 AND student_id = $3 AND status = 'waiting'`

type CancelWaitingEntryParams struct {
	SessionID pgtype.UUID
	TopicID   pgtype.UUID
	StudentID pgtype.UUID
	UpdatedAt pgtype.Timestamptz
}

func (q *Queries) CancelWaitingEntry(ctx context.Context, arg CancelWaitingEntryParams) (int64, error) {
	result, err := q.db.Exec(ctx, cancelWaitingEntry, arg.SessionID, arg.TopicID, arg.StudentID, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const releaseWaitingEntriesForCollab = `-- name: ReleaseWaitingEntriesForCollab :execrows
UPDATE waiting_room_entries
SET status = 'cancelled',
    updated_at = $2
WHERE collab_session_id = $1 AND status = 'matched'`

type ReleaseWaitingEntriesForCollabParams struct {
	CollabSessionID pgtype.UUID
	UpdatedAt       pgtype.Timestamptz
}

func (q *Queries) ReleaseWaitingEntriesForCollab(ctx context.Context, arg ReleaseWaitingEntriesForCollabParams) (int64, error) {
	result, err := q.db.Exec(ctx, releaseWaitingEntriesForCollab, arg.CollabSessionID, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const releaseStudentWaitingEntry = `-- name: ReleaseStudentWaitingEntry :execrows
UPDATE waiting_room_entries
SET status = 'cancelled',
    updated_at = $3
WHERE collab_session_id = $1 AND student_id = $2 AND status = 'matched'`

type ReleaseStudentWaitingEntryParams struct {
	CollabSessionID pgtype.UUID
	StudentID       pgtype.UUID
	UpdatedAt       pgtype.Timestamptz
}

func (q *Queries) ReleaseStudentWaitingEntry(ctx context.Context, arg ReleaseStudentWaitingEntryParams) (int64, error) {
	result, err := q.db.Exec(ctx, releaseStudentWaitingEntry, arg.CollabSessionID, arg.StudentID, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const cancelExpiredWaitingEntries = `-- name: CancelExpiredWaitingEntries :execrows
UPDATE waiting_room_entries
SET status = 'cancelled',
    updated_at = $1
WHERE status = 'waiting' AND expires_at <= $1`

func (q *Queries) CancelExpiredWaitingEntries(ctx context.Context, now pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, cancelExpiredWaitingEntries, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
