package collab

import "testing"

func TestTallyImbalance(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     bool
	}{
		{name: "below floor", messages: []string{"a", "a", "a", "a"}, want: false},
		{name: "four of five", messages: []string{"a", "a", "a", "a", "b"}, want: true},
		{name: "three of five", messages: []string{"a", "a", "a", "b", "b"}, want: false},
		{name: "seven of ten", messages: []string{"a", "a", "a", "a", "a", "a", "a", "b", "b", "b"}, want: false},
		{name: "single speaker", messages: []string{"a", "a", "a", "a", "a"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := Tally{}
			for _, who := range tt.messages {
				tally = tally.Add(who, 5, 0.5)
			}
			if got := tally.Imbalanced(4, 0.7); got != tt.want {
				t.Fatalf("Imbalanced() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTallyAddDoesNotMutate(t *testing.T) {
	base := Tally{"a": {MessageCount: 1, WordCount: 3}}
	next := base.Add("a", 4, 1.5)

	if base["a"].MessageCount != 1 {
		t.Fatalf("base tally mutated: %+v", base["a"])
	}
	got := next["a"]
	if got.MessageCount != 2 || got.WordCount != 7 || got.EngagementSum != 1.5 {
		t.Fatalf("unexpected contribution %+v", got)
	}
	if next.TotalMessages() != 2 {
		t.Fatalf("TotalMessages() = %d, want 2", next.TotalMessages())
	}
}

func TestNextInTurnWraps(t *testing.T) {
	participants := []Participant{{StudentID: "a"}, {StudentID: "b"}, {StudentID: "c"}}
	if got := nextInTurn(participants, "b"); got != "c" {
		t.Fatalf("nextInTurn(b) = %q", got)
	}
	if got := nextInTurn(participants, "c"); got != "a" {
		t.Fatalf("nextInTurn(c) = %q", got)
	}
}
