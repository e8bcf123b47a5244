// Package reminder decides which students get an inactivity email and sends
// it, counting only messages that were actually dispatched.
package reminder

import (
	"time"

	"cftrack/internal/model"
)

type Action string

const (
	Send Action = "send"
	Skip Action = "skip"
)

// Skip reasons.
const (
	ReasonDisabled = "disabled"
	ReasonNoEmail  = "no_email"
	ReasonActive   = "active"
	ReasonCooldown = "cooldown"
	ReasonInactive = "inactive"
)

type Decision struct {
	Action Action
	Reason string
}

// Policy holds the two windows Evaluate compares against.
type Policy struct {
	InactivityThreshold time.Duration
	Cooldown            time.Duration
}

// Evaluate is pure. lastActivity is the student's newest submission, or the
// zero time when there is none, in which case account creation counts.
func Evaluate(st model.Student, lastActivity, now time.Time, p Policy) Decision {
	if !st.Reminder.Enabled {
		return Decision{Skip, ReasonDisabled}
	}
	if st.Email == "" {
		return Decision{Skip, ReasonNoEmail}
	}
	if lastActivity.IsZero() {
		lastActivity = st.CreatedAt
	}
	if now.Sub(lastActivity) <= p.InactivityThreshold {
		return Decision{Skip, ReasonActive}
	}
	if last := st.Reminder.LastReminderAt; last != nil && now.Sub(*last) < p.Cooldown {
		return Decision{Skip, ReasonCooldown}
	}
	return Decision{Send, ReasonInactive}
}
