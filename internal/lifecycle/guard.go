package lifecycle

import (
	"errors"
	"time"

	"semaphore/liveclass/internal/db"
	"semaphore/liveclass/internal/errs"
)

type Outcome int

const (
	OutcomeActive Outcome = iota
	OutcomeInGrace
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActive:
		return "active"
	case OutcomeInGrace:
		return "in_grace"
	default:
		return "blocked"
	}
}

type Reason string

const (
	ReasonPaused      Reason = "SESSION_PAUSED"
	ReasonEnded       Reason = "SESSION_ENDED"
	ReasonUnavailable Reason = "SESSION_UNAVAILABLE"
)

var (
	ErrSessionPaused      = errs.Forbidden(string(ReasonPaused), "session is paused")
	ErrSessionEnded       = errs.Forbidden(string(ReasonEnded), "session has ended")
	ErrSessionUnavailable = errs.Forbidden(string(ReasonUnavailable), "session is unavailable")
)

// Decision is the guard verdict. GraceEndsAt and Status are set for
// OutcomeInGrace, Reason for OutcomeBlocked.
type Decision struct {
	Outcome     Outcome
	GraceEndsAt time.Time
	Status      db.SessionStatus
	Reason      Reason
}

func (d Decision) Allowed() bool {
	return d.Outcome != OutcomeBlocked
}

// Err returns the forbidden error matching a blocked decision, nil otherwise.
func (d Decision) Err() error {
	if d.Outcome != OutcomeBlocked {
		return nil
	}
	switch d.Reason {
	case ReasonPaused:
		return ErrSessionPaused
	case ReasonEnded:
		return ErrSessionEnded
	default:
		return ErrSessionUnavailable
	}
}

// Authorize decides whether students may interact with a session in state at now.
func Authorize(state State, now time.Time) Decision {
	switch s := state.(type) {
	case Active:
		return Decision{Outcome: OutcomeActive, Status: db.SessionStatusActive}
	case Paused:
		if inGrace(s.GraceEndsAt, now) {
			return Decision{Outcome: OutcomeInGrace, GraceEndsAt: s.GraceEndsAt, Status: db.SessionStatusPaused}
		}
		return Decision{Outcome: OutcomeBlocked, Status: db.SessionStatusPaused, Reason: ReasonPaused}
	case Ended:
		if inGrace(s.GraceEndsAt, now) {
			return Decision{Outcome: OutcomeInGrace, GraceEndsAt: s.GraceEndsAt, Status: db.SessionStatusEnded}
		}
		return Decision{Outcome: OutcomeBlocked, Status: db.SessionStatusEnded, Reason: ReasonEnded}
	case Unknown:
		return Decision{Outcome: OutcomeBlocked, Status: db.SessionStatus(s.Raw), Reason: ReasonUnavailable}
	default:
		return Decision{Outcome: OutcomeBlocked, Reason: ReasonUnavailable}
	}
}

func inGrace(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.Before(deadline)
}

// Warning is attached to successful responses served during a grace period.
type Warning struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Status      string    `json:"status"`
	GraceEndsAt time.Time `json:"graceEndsAt"`
}

func (d Decision) Warning() *Warning {
	if d.Outcome != OutcomeInGrace {
		return nil
	}
	w := &Warning{Status: string(d.Status), GraceEndsAt: d.GraceEndsAt}
	if d.Status == db.SessionStatusEnded {
		w.Code = "SESSION_ENDED_GRACE_PERIOD"
		w.Message = "The session has ended. Finish up before the grace period runs out."
	} else {
		w.Code = "SESSION_PAUSED_GRACE_PERIOD"
		w.Message = "The session is paused. Interaction stops when the grace period runs out."
	}
	return w
}

// BlockedReason reports whether err is a guard rejection and which one.
func BlockedReason(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ErrSessionPaused):
		return ReasonPaused, true
	case errors.Is(err, ErrSessionEnded):
		return ReasonEnded, true
	case errors.Is(err, ErrSessionUnavailable):
		return ReasonUnavailable, true
	}
	return "", false
}
