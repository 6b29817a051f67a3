package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotRegistered means the subject has no registration for the session.
	ErrNotRegistered = errors.New("subject not registered for session")
	// ErrAlreadyCompleted means the pair already reached its terminal state.
	ErrAlreadyCompleted = errors.New("attendance already completed")
	// ErrSessionClosed rejects a check-out after the session window under LateReject.
	ErrSessionClosed = errors.New("session window has elapsed")
	// ErrSessionNotFound means no session exists with the requested id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownKind is returned for sessions whose kind has no state machine.
	ErrUnknownKind = errors.New("unknown session kind")
)

// Kind selects the attendance state machine used for a session.
type Kind string

const (
	// KindExam records check-in and check-out.
	KindExam Kind = "exam"
	// KindClass records a single present mark.
	KindClass Kind = "class"
)

// Status is the persisted state of a Record.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusPresent    Status = "present"
	StatusAbsent     Status = "absent"
)

// Action names the transition taken for a scan.
type Action string

const (
	ActionCheckIn  Action = "check-in"
	ActionCheckOut Action = "check-out"
	ActionPresent  Action = "present"
)

// LatePolicy decides what happens to a check-out after the session ended.
type LatePolicy string

const (
	LateAccept LatePolicy = "accept"
	LateFlag   LatePolicy = "flag"
	LateReject LatePolicy = "reject"
)

// ParseLatePolicy accepts accept, flag or reject; empty means accept.
func ParseLatePolicy(s string) (LatePolicy, error) {
	switch p := LatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return LateAccept, nil
	case LateAccept, LateFlag, LateReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown late check-out policy %q", s)
	}
}

// Session is the scheduling unit a scan is recorded against.
type Session struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Title    string    `json:"title"`
	Venue    string    `json:"venue,omitempty"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Ended reports whether the session window closed before now. Sessions
// without an end time never end.
func (s Session) Ended(now time.Time) bool {
	return !s.EndsAt.IsZero() && now.After(s.EndsAt)
}

// Record is the single attendance row for one (subject, session) pair.
type Record struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	SubjectID    string     `json:"subject_id"`
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	Status       Status     `json:"status"`
	LateCheckOut bool       `json:"late_check_out,omitempty"`
}

// step is the result of feeding one scan to a machine.
type step struct {
	action  Action
	record  Record
	create  bool
	flagged bool
}

// machine is one attendance shape. Implementations never touch storage.
type machine interface {
	next(existing *Record, sess Session, subjectID string, now time.Time) (step, error)
}

func machineFor(kind Kind, late LatePolicy) (machine, error) {
	switch kind {
	case KindExam:
		return twoPhase{late: late}, nil
	case KindClass:
		return singleMark{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// twoPhase: none -> in-progress -> completed.
type twoPhase struct {
	late LatePolicy
}

func (m twoPhase) next(existing *Record, sess Session, subjectID string, now time.Time) (step, error) {
	if existing == nil {
		return step{
			action: ActionCheckIn,
			create: true,
			record: Record{
				ID:          RecordID(sess.ID, subjectID),
				SessionID:   sess.ID,
				SubjectID:   subjectID,
				CheckInTime: &now,
				Status:      StatusInProgress,
			},
		}, nil
	}
	if existing.CheckOutTime != nil {
		return step{}, ErrAlreadyCompleted
	}

	rec := *existing
	flagged := false
	if sess.Ended(now) {
		switch m.late {
		case LateReject:
			return step{}, ErrSessionClosed
		case LateFlag:
			rec.LateCheckOut = true
			flagged = true
		}
	}
	rec.CheckOutTime = &now
	rec.Status = StatusCompleted
	return step{action: ActionCheckOut, record: rec, flagged: flagged}, nil
}

// singleMark: none -> present.
type singleMark struct{}

func (singleMark) next(existing *Record, sess Session, subjectID string, now time.Time) (step, error) {
	if existing != nil {
		return step{}, ErrAlreadyCompleted
	}
	return step{
		action: ActionPresent,
		create: true,
		record: Record{
			ID:          RecordID(sess.ID, subjectID),
			SessionID:   sess.ID,
			SubjectID:   subjectID,
			CheckInTime: &now,
			Status:      StatusPresent,
		},
	}, nil
}
