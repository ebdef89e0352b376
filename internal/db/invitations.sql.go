package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const collabInvitationColumns = `id, collab_session_id, from_student_id, from_student_name, to_student_id, message, status, created_at, expires_at, responded_at`

func scanCollabInvitation(row interface{ Scan(...any) error }) (CollabInvitation, error) {
	var i CollabInvitation
	err := row.Scan(
		&i.ID,
		&i.CollabSessionID,
		&i.FromStudentID,
		&i.FromStudentName,
		&i.ToStudentID,
		&i.Message,
		&i.Status,
		&i.CreatedAt,
		&i.ExpiresAt,
		&i.RespondedAt,
	)
	return i, err
}

// A new invitation to the same student replaces the previous one, id included.
const upsertInvitation = `-- name: UpsertInvitation :one
INSERT INTO collab_invitations (
    id, collab_session_id, from_student_id, from_student_name, to_student_id, message, status, created_at, expires_at
) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8)
ON CONFLICT (collab_session_id, to_student_id) DO UPDATE SET
    id = EXCLUDED.id,
    from_student_id = EXCLUDED.from_student_id,
    from_student_name = EXCLUDED.from_student_name,
    message = EXCLUDED.message,
    status = 'pending',
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at,
    responded_at = NULL
RETURNING ` + collabInvitationColumns

type UpsertInvitationParams struct {
	ID              pgtype.UUID
	CollabSessionID pgtype.UUID
	FromStudentID   pgtype.UUID
	FromStudentName string
	ToStudentID     pgtype.UUID
	Message         string
	CreatedAt       pgtype.Timestamptz
	ExpiresAt       pgtype.Timestamptz
}

func (q *Queries) UpsertInvitation(ctx context.Context, arg UpsertInvitationParams) (CollabInvitation, error) {
	row := q.db.QueryRow(ctx, upsertInvitation,
		arg.ID,
		arg.CollabSessionID,
		arg.FromStudentID,
		arg.FromStudentName,
		arg.ToStudentID,
		arg.Message,
		arg.CreatedAt,
		arg.ExpiresAt,
	)
	return scanCollabInvitation(row)
}

const getInvitation = `-- name: GetInvitation :one
SELECT ` + collabInvitationColumns + `
FROM collab_invitations
WHERE id = $1`

func (q *Queries) GetInvitation(ctx context.Context, id pgtype.UUID) (CollabInvitation, error) {
	return scanCollabInvitation(q.db.QueryRow(ctx, getInvitation, id))
}

// No row is returned unless the invitation is still pending and unexpired.
const respondInvitation = `-- name: RespondInvitation :one
UPDATE collab_invitations
SET status = $2,
    responded_at = $3
WHERE id = $1
  AND status = 'pending'
  AND expires_at > $3
RETURNING ` + collabInvitationColumns

type RespondInvitationParams struct {
	ID          pgtype.UUID
	Status      InvitationStatus
	RespondedAt pgtype.Timestamptz
}

func (q *Queries) RespondInvitation(ctx context.Context, arg RespondInvitationParams) (CollabInvitation, error) {
	row := q.db.QueryRow(ctx, respondInvitation, arg.ID, arg.Status, arg.RespondedAt)
	return scanCollabInvitation(row)
}

const listPendingInvitations = `-- name: ListPendingInvitations :many
SELECT ` + collabInvitationColumns + `
FROM collab_invitations
WHERE to_student_id = $1
  AND status = 'pending'
  AND expires_at > $2
ORDER BY created_at DESC`

type ListPendingInvitationsParams struct {
	ToStudentID pgtype.UUID
	Now         pgtype.Timestamptz
}

func (q *Queries) ListPendingInvitations(ctx context.Context, arg ListPendingInvitationsParams) ([]CollabInvitation, error) {
	rows, err := q.db.Query(ctx, listPendingInvitations, arg.ToStudentID, arg.Now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CollabInvitation
	for rows.Next() {
		i, err := scanCollabInvitation(rows)
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
