package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/notify"
	"semaphore/liveclass/internal/tutor"
)

const tutorSpeaker = "Tutor"

type ChatResult struct {
	Message       Message  `json:"message"`
	Reply         *Message `json:"reply,omitempty"`
	Contributions Tally    `json:"contributions"`
	IsImbalanced  bool     `json:"isImbalanced"`
	Warned
}

type chatMessage struct {
	CollabSessionID string  `json:"collabSessionId"`
	StudentName     string  `json:"studentName,omitempty"`
	Message         Message `json:"message"`
}

// SendMessage stores a participant's message, counts it as a contribution
// and asks the tutor for a reply. A failed reply is logged and omitted.
func (s *Service) SendMessage(ctx context.Context, collabID, studentID pgtype.UUID, content string, engagement float64) (ChatResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatResult{}, ErrEmptyMessage
	}
	if engagement < 0 {
		return ChatResult{}, ErrInvalidContribution
	}
	decision, err := s.guard.GuardCollab(ctx, collabID)
	if err != nil {
		return ChatResult{}, err
	}

	var (
		collab  Collab
		crossed bool
		stored  db.ConversationMessage
	)
	err = s.store.WithTx(ctx, func(q db.Querier) error {
		var err error
		collab, crossed, err = s.recordTx(ctx, q, collabID, studentID, len(strings.Fields(content)), engagement)
		if err != nil {
			return err
		}
		conversationID, err := db.ParseUUID(collab.ConversationID)
		if err != nil {
			return err
		}
		stored, err = q.InsertConversationMessage(ctx, db.InsertConversationMessageParams{
			ID:             db.NewID(),
			ConversationID: conversationID,
			Role:           db.MessageRoleStudent,
			StudentID:      studentID,
			Content:        content,
			CreatedAt:      db.Time(s.now()),
		})
		if err != nil {
			return fmt.Errorf("store message: %w", err)
		}
		return nil
	})
	if err != nil {
		return ChatResult{}, err
	}

	message := messageFromRow(stored)
	s.publishChat(collab, message)
	if crossed {
		s.announceImbalance(collab)
	}

	result := ChatResult{
		Message:       message,
		Contributions: collab.Contributions,
		IsImbalanced:  collab.IsImbalanced,
		Warned:        warned(decision),
	}
	if reply, err := s.reply(ctx, collab); err != nil {
		s.logger.Warn("tutor reply failed",
			zap.String("collab_session_id", collab.ID),
			zap.Error(err))
	} else {
		result.Reply = &reply
		s.publishChat(collab, reply)
	}
	return result, nil
}

func (s *Service) reply(ctx context.Context, collab Collab) (Message, error) {
	q := s.store.Querier()
	topicID, err := db.ParseUUID(collab.TopicID)
	if err != nil {
		return Message{}, err
	}
	topic, err := q.GetTopic(ctx, topicID)
	if err != nil {
		return Message{}, fmt.Errorf("load topic: %w", err)
	}
	conversationID, err := db.ParseUUID(collab.ConversationID)
	if err != nil {
		return Message{}, err
	}
	rows, err := q.ListConversationMessages(ctx, db.ListConversationMessagesParams{
		ConversationID: conversationID,
		Limit:          int32(s.cfg.HistoryLimit),
	})
	if err != nil {
		return Message{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]tutor.Line, 0, len(rows))
	for _, row := range rows {
		speaker := tutorSpeaker
		if row.Role == db.MessageRoleStudent {
			speaker = collab.NameOf(db.UUIDString(row.StudentID))
			if speaker == "" {
				speaker = "Student"
			}
		}
		history = append(history, tutor.Line{Speaker: speaker, Text: row.Content})
	}

	text, err := s.generator.Generate(ctx, tutor.ReplyPrompt(topic.Title, history, collab.NameOf(collab.CurrentTurn)))
	if err != nil {
		return Message{}, err
	}
	stored, err := q.InsertConversationMessage(ctx, db.InsertConversationMessageParams{
		ID:             db.NewID(),
		ConversationID: conversationID,
		Role:           db.MessageRoleAssistant,
		Content:        text,
		CreatedAt:      db.Time(s.now()),
	})
	if err != nil {
		return Message{}, fmt.Errorf("store reply: %w", err)
	}
	return messageFromRow(stored), nil
}

func (s *Service) publishChat(collab Collab, message Message) {
	payload := chatMessage{CollabSessionID: collab.ID, Message: message}
	if message.StudentID != "" {
		payload.StudentName = collab.NameOf(message.StudentID)
	}
	s.notifier.Notify(notify.CollabChannel(collab.ID), notify.NewEvent(notify.EventChatMessage, payload, s.now()))
}

// Messages returns the latest conversation history of a collaborative session, oldest first.
func (s *Service) Messages(ctx context.Context, collabID pgtype.UUID) ([]Message, error) {
	q := s.store.Querier()
	row, err := q.GetCollabSession(ctx, collabID)
	if err != nil {
		return nil, notFound(err, ErrCollabNotFound)
	}
	rows, err := q.ListConversationMessages(ctx, db.ListConversationMessagesParams{
		ConversationID: row.ConversationID,
		Limit:          int32(s.cfg.HistoryLimit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, messageFromRow(r))
	}
	return out, nil
}
