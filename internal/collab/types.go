package collab

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/lifecycle"
)

type Participant struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
}

type Contribution struct {
	MessageCount  int     `json:"messageCount"`
	WordCount     int     `json:"wordCount"`
	EngagementSum float64 `json:"engagementSum"`
}

// Tally maps student id to that student's running contribution.
type Tally map[string]Contribution

type Collab struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversationId"`
	SessionID       string        `json:"sessionId"`
	TopicID         string        `json:"topicId"`
	Mode            string        `json:"mode"`
	Participants    []Participant `json:"participants"`
	CurrentTurn     string        `json:"currentTurn,omitempty"`
	TurnCount       int           `json:"turnCount"`
	Contributions   Tally         `json:"contributions"`
	IsImbalanced    bool          `json:"isImbalanced"`
	BalanceWarnings int           `json:"balanceWarnings"`
	Status          string        `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
}

func (c Collab) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.StudentID)
	}
	return ids
}

func (c Collab) HasParticipant(studentID string) bool {
	for _, p := range c.Participants {
		if p.StudentID == studentID {
			return true
		}
	}
	return false
}

func (c Collab) NameOf(studentID string) string {
	for _, p := range c.Participants {
		if p.StudentID == studentID {
			return p.Name
		}
	}
	return ""
}

func collabFromRow(row db.CollaborativeSession) (Collab, error) {
	names, err := decodeNames(row.ParticipantNames)
	if err != nil {
		return Collab{}, err
	}
	tally, err := decodeTally(row.Contributions)
	if err != nil {
		return Collab{}, err
	}
	participants := make([]Participant, 0, len(row.ParticipantIds))
	for _, id := range row.ParticipantIds {
		sid := db.UUIDString(id)
		participants = append(participants, Participant{StudentID: sid, Name: names[sid]})
	}
	return Collab{
		ID:              db.UUIDString(row.ID),
		ConversationID:  db.UUIDString(row.ConversationID),
		SessionID:       db.UUIDString(row.SessionID),
		TopicID:         db.UUIDString(row.TopicID),
		Mode:            row.Mode,
		Participants:    participants,
		CurrentTurn:     db.UUIDString(row.CurrentTurnStudentID),
		TurnCount:       int(row.TurnCount),
		Contributions:   tally,
		IsImbalanced:    row.IsImbalanced,
		BalanceWarnings: int(row.BalanceWarnings),
		Status:          string(row.Status),
		CreatedAt:       row.CreatedAt.Time.UTC(),
		UpdatedAt:       row.UpdatedAt.Time.UTC(),
		EndedAt:         db.TimePtr(row.EndedAt),
	}, nil
}

func decodeNames(raw []byte) (map[string]string, error) {
	names := map[string]string{}
	if len(raw) == 0 {
		return names, nil
	}
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("decode participant names: %w", err)
	}
	return names, nil
}

func encodeNames(participants []Participant) ([]byte, error) {
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.StudentID] = p.Name
	}
	return json.Marshal(names)
}

func decodeTally(raw []byte) (Tally, error) {
	tally := Tally{}
	if len(raw) == 0 {
		return tally, nil
	}
	if err := json.Unmarshal(raw, &tally); err != nil {
		return nil, fmt.Errorf("decode contributions: %w", err)
	}
	return tally, nil
}

func participantUUIDs(participants []Participant) ([]pgtype.UUID, error) {
	ids := make([]pgtype.UUID, 0, len(participants))
	for _, p := range participants {
		id, err := db.ParseUUID(p.StudentID)
		if err != nil {
			return nil, fmt.Errorf("participant id %q: %w", p.StudentID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type WaitingEntry struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"studentId"`
	StudentName   string    `json:"studentName"`
	PreferredMode string    `json:"preferredMode"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func waitingFromRow(row db.WaitingRoomEntry) WaitingEntry {
	return WaitingEntry{
		ID:            db.UUIDString(row.ID),
		StudentID:     db.UUIDString(row.StudentID),
		StudentName:   row.StudentName,
		PreferredMode: row.PreferredMode,
		Status:        string(row.Status),
		CreatedAt:     row.CreatedAt.Time.UTC(),
		ExpiresAt:     row.ExpiresAt.Time.UTC(),
	}
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	StudentID      string    `json:"studentId,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

func messageFromRow(row db.ConversationMessage) Message {
	return Message{
		ID:             db.UUIDString(row.ID),
		ConversationID: db.UUIDString(row.ConversationID),
		Role:           string(row.Role),
		StudentID:      db.UUIDString(row.StudentID),
		Content:        row.Content,
		CreatedAt:      row.CreatedAt.Time.UTC(),
	}
}

type Invitation struct {
	ID              string     `json:"id"`
	CollabSessionID string     `json:"collabSessionId"`
	FromStudentID   string     `json:"fromStudentId"`
	FromStudentName string     `json:"fromStudentName"`
	ToStudentID     string     `json:"toStudentId"`
	Message         string     `json:"message"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	RespondedAt     *time.Time `json:"respondedAt,omitempty"`
}

func invitationFromRow(row db.CollabInvitation) Invitation {
	return Invitation{
		ID:              db.UUIDString(row.ID),
		CollabSessionID: db.UUIDString(row.CollabSessionID),
		FromStudentID:   db.UUIDString(row.FromStudentID),
		FromStudentName: row.FromStudentName,
		ToStudentID:     db.UUIDString(row.ToStudentID),
		Message:         row.Message,
		Status:          string(row.Status),
		CreatedAt:       row.CreatedAt.Time.UTC(),
		ExpiresAt:       row.ExpiresAt.Time.UTC(),
		RespondedAt:     db.TimePtr(row.RespondedAt),
	}
}

// Warned is embedded in results served while the class session is in its grace period.
type Warned struct {
	Warning *lifecycle.Warning `json:"warning,omitempty"`
}

func warned(d lifecycle.Decision) Warned {
	return Warned{Warning: d.Warning()}
}
