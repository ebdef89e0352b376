package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/notify"
)

type CreateRequest struct {
	ConversationID pgtype.UUID
	SessionID      pgtype.UUID
	Mode           string
	Participants   []Participant
}

type CollabView struct {
	Collab
	Warned
}

// CreateCollab binds an existing conversation to a set of participants. The
// first participant holds the first turn and the conversation's owner must
// be among the participants. An already active collaboration on the
// conversation is returned unchanged.
func (s *Service) CreateCollab(ctx context.Context, req CreateRequest) (CollabView, error) {
	participants := distinctParticipants(req.Participants)
	if len(participants) < 2 {
		return CollabView{}, ErrParticipantsRequired
	}
	ids, err := participantUUIDs(participants)
	if err != nil {
		return CollabView{}, ErrParticipantsRequired.WithCause(err)
	}
	if req.Mode == "" {
		req.Mode = DefaultMode
	}
	decision, err := s.guard.Guard(ctx, req.SessionID)
	if err != nil {
		return CollabView{}, err
	}
	names, err := encodeNames(participants)
	if err != nil {
		return CollabView{}, err
	}

	var (
		collab  Collab
		created bool
	)
	err = s.store.WithTx(ctx, func(q db.Querier) error {
		conversation, err := q.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return notFound(err, ErrConversationGone)
		}
		if conversation.SessionID != req.SessionID {
			return ErrConversationState
		}
		if !containsID(ids, conversation.StudentID) {
			return ErrNotConversationOwner
		}
		now := db.Time(s.now())
		row, err := q.UpsertCollabSession(ctx, db.UpsertCollabSessionParams{
			ID:                   db.NewID(),
			ConversationID:       conversation.ID,
			SessionID:            conversation.SessionID,
			TopicID:              conversation.TopicID,
			Mode:                 req.Mode,
			ParticipantIds:       ids,
			ParticipantNames:     names,
			CurrentTurnStudentID: ids[0],
			Now:                  now,
		})
		if db.IsNoRows(err) {
			row, err = q.GetCollabSessionByConversation(ctx, conversation.ID)
		} else if err == nil {
			created = true
			err = q.SetConversationCollab(ctx, db.SetConversationCollabParams{
				ID:              conversation.ID,
				IsCollaborative: true,
				CollabSessionID: row.ID,
				UpdatedAt:       now,
			})
		}
		if err != nil {
			return fmt.Errorf("create collab session: %w", err)
		}
		collab, err = collabFromRow(row)
		return err
	})
	if err != nil {
		return CollabView{}, err
	}
	if created {
		s.notifier.Notify(notify.CollabChannel(collab.ID), notify.NewEvent(notify.EventCollabStarted, collab, s.now()))
	}
	return CollabView{Collab: collab, Warned: warned(decision)}, nil
}

func distinctParticipants(in []Participant) []Participant {
	seen := make(map[string]bool, len(in))
	out := make([]Participant, 0, len(in))
	for _, p := range in {
		if p.StudentID == "" || seen[p.StudentID] {
			continue
		}
		seen[p.StudentID] = true
		out = append(out, p)
	}
	return out
}

type TopicSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type ConversationSummary struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"studentId"`
	IsCollaborative bool      `json:"isCollaborative"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Details struct {
	Collab
	Topic        TopicSummary        `json:"topic"`
	Conversation ConversationSummary `json:"conversation"`
}

// GetCollab loads a collaborative session with its topic and conversation.
func (s *Service) GetCollab(ctx context.Context, collabID pgtype.UUID) (Details, error) {
	q := s.store.Querier()
	row, err := q.GetCollabSession(ctx, collabID)
	if err != nil {
		return Details{}, notFound(err, ErrCollabNotFound)
	}
	collab, err := collabFromRow(row)
	if err != nil {
		return Details{}, err
	}
	details := Details{Collab: collab}
	topic, err := q.GetTopic(ctx, row.TopicID)
	if err != nil && !db.IsNoRows(err) {
		return Details{}, err
	}
	if err == nil {
		details.Topic = TopicSummary{ID: db.UUIDString(topic.ID), Title: topic.Title, Description: topic.Description}
	}
	conversation, err := q.GetConversation(ctx, row.ConversationID)
	if err != nil && !db.IsNoRows(err) {
		return Details{}, err
	}
	if err == nil {
		details.Conversation = ConversationSummary{
			ID:              db.UUIDString(conversation.ID),
			StudentID:       db.UUIDString(conversation.StudentID),
			IsCollaborative: conversation.IsCollaborative,
			CreatedAt:       conversation.CreatedAt.Time.UTC(),
		}
	}
	return details, nil
}
