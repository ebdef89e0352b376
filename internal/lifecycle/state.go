// Package lifecycle owns the class session state machine and the guard every
// student-facing operation consults before mutating anything.
package lifecycle

import (
	"time"

	"semaphore/liveclass/internal/db"
)

// State is the explicit form of a session row's status and timestamps.
// Exactly one of Active, Paused, Ended or Unknown.
type State interface {
	isState()
}

type Active struct{}

// Paused carries the grace deadline; a zero GraceEndsAt means none was recorded.
type Paused struct {
	Since       time.Time
	GraceEndsAt time.Time
}

type Ended struct {
	Since       time.Time
	GraceEndsAt time.Time
}

// Unknown holds a status value this build does not recognise.
type Unknown struct {
	Raw string
}

func (Active) isState()  {}
func (Paused) isState()  {}
func (Ended) isState()   {}
func (Unknown) isState() {}

func StateOf(session db.ClassSession) State {
	grace := timeOrZero(session.GracePeriodEndsAt.Time, session.GracePeriodEndsAt.Valid)
	switch session.Status {
	case db.SessionStatusActive:
		return Active{}
	case db.SessionStatusPaused:
		return Paused{Since: timeOrZero(session.PausedAt.Time, session.PausedAt.Valid), GraceEndsAt: grace}
	case db.SessionStatusEnded:
		return Ended{Since: timeOrZero(session.EndedAt.Time, session.EndedAt.Valid), GraceEndsAt: grace}
	default:
		return Unknown{Raw: string(session.Status)}
	}
}

func timeOrZero(t time.Time, valid bool) time.Time {
	if !valid {
		return time.Time{}
	}
	return t.UTC()
}
