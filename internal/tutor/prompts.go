package tutor

import (
	"fmt"
	"strings"
)

type Line struct {
	Speaker string
	Text    string
}

// OpeningPrompt asks for the first message of a freshly matched pair.
func OpeningPrompt(topic string, names []string) string {
	var b strings.Builder
	b.WriteString("You are a friendly tutor running a tag-team discussion between students in a live class.\n")
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Students: %s\n", joinNames(names))
	b.WriteString("Greet the students by name, explain that they will take turns answering and tag each other in, ")
	b.WriteString("and ask an opening question addressed to ")
	if len(names) > 0 {
		b.WriteString(names[0])
	} else {
		b.WriteString("the first student")
	}
	b.WriteString(". Keep it under 80 words.")
	return b.String()
}

// ReplyPrompt asks for the tutor's reaction to the latest turn of the discussion.
func ReplyPrompt(topic string, history []Line, nextSpeaker string) string {
	var b strings.Builder
	b.WriteString("You are a friendly tutor running a tag-team discussion between students in a live class.\n")
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	b.WriteString("Conversation so far:\n")
	for _, line := range history {
		fmt.Fprintf(&b, "%s: %s\n", line.Speaker, line.Text)
	}
	b.WriteString("Respond briefly to the last message, correct misconceptions gently")
	if nextSpeaker != "" {
		fmt.Fprintf(&b, ", and invite %s to build on it", nextSpeaker)
	}
	b.WriteString(". Keep it under 60 words.")
	return b.String()
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "unknown"
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
