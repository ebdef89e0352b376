// Package notify delivers fire-and-forget events to browser clients through
// Redis pub/sub channels.
package notify

import (
	"strings"
	"time"
)

const (
	EventStudentWaiting       = "collab-student-waiting"
	EventPartnerFound         = "partner-found"
	EventCollabStarted        = "collab-session-started"
	EventTurnChanged          = "collab-turn-changed"
	EventPartnerLeft          = "collab-partner-left"
	EventInvitation           = "collab-invitation"
	EventInvitationResponse   = "collab-invitation-response"
	EventChatMessage          = "collab-chat-message"
	EventBalanceWarning       = "collab-balance-warning"
	EventSessionStatusChanged = "session-status-changed"
)

type Event struct {
	Type       string    `json:"type"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewEvent(eventType string, payload any, at time.Time) Event {
	return Event{Type: eventType, Payload: payload, OccurredAt: at.UTC()}
}

const channelPrefix = "liveclass:"

func SessionChannel(sessionID string) string {
	return channelPrefix + "session:" + sessionID
}

func TopicChannel(sessionID, topicID string) string {
	return channelPrefix + "topic:" + sessionID + ":" + topicID
}

func StudentChannel(studentID string) string {
	return channelPrefix + "student:" + studentID
}

func CollabChannel(collabSessionID string) string {
	return channelPrefix + "collab:" + collabSessionID
}

type ChannelKind string

const (
	ChannelSession ChannelKind = "session"
	ChannelTopic   ChannelKind = "topic"
	ChannelStudent ChannelKind = "student"
	ChannelCollab  ChannelKind = "collab"
)

// ParseChannel splits a channel name into its kind and ids. Topic channels
// yield two ids (session, topic), every other kind one.
func ParseChannel(channel string) (ChannelKind, []string, bool) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return "", nil, false
	}
	parts := strings.Split(rest, ":")
	kind := ChannelKind(parts[0])
	ids := parts[1:]
	for _, id := range ids {
		if id == "" {
			return "", nil, false
		}
	}
	switch {
	case kind == ChannelTopic && len(ids) == 2:
		return kind, ids, true
	case (kind == ChannelSession || kind == ChannelStudent || kind == ChannelCollab) && len(ids) == 1:
		return kind, ids, true
	}
	return "", nil, false
}
