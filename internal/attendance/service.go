package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/identity"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/metrics"
)

// recordNamespace scopes deterministic record ids.
var recordNamespace = uuid.MustParse("6f1c3c1e-2f4b-4e55-9b1a-7d1f0a6c9e21")

// RecordID is the id of the one record a (session, subject) pair may own.
func RecordID(sessionID, subjectID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(sessionID+"\x00"+subjectID)).String()
}

// Outcome reports what a scan did. Message is always set, including when
// Apply returns an error, so operators get feedback for every scan.
type Outcome struct {
	Action      Action `json:"action,omitempty"`
	Record      Record `json:"record"`
	SubjectName string `json:"subject_name"`
	Session     string `json:"session"`
	Message     string `json:"message"`
	Flagged     bool   `json:"flagged,omitempty"`
}

// Service coordinates the attendance state machines with storage.
type Service struct {
	repo    Repository
	late    LatePolicy
	now     func() time.Time
	locks   pairLocks
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLatePolicy sets how check-outs after the session window are handled.
func WithLatePolicy(p LatePolicy) Option { return func(s *Service) { s.late = p } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService creates a service backed by a repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		late: LateAccept,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s
}

// Session loads a session by id.
func (s *Service) Session(ctx context.Context, sessionID string) (Session, error) {
	return s.repo.Session(ctx, sessionID)
}

// Apply feeds one resolved scan for subject into the state machine of
// sessionID and persists the result. The read-then-write for one pair never
// interleaves with another Apply for the same pair.
func (s *Service) Apply(ctx context.Context, subject identity.Subject, sessionID string) (Outcome, error) {
	out := Outcome{SubjectName: displayName(subject)}

	sess, err := s.repo.Session(ctx, sessionID)
	if err != nil {
		out.Message = fmt.Sprintf("%s: %s", Describe(err), sessionID)
		return out, err
	}
	out.Session = sessionTitle(sess)

	m, err := machineFor(sess.Kind, s.late)
	if err != nil {
		out.Message = fmt.Sprintf("%s has no attendance mode", out.Session)
		return out, err
	}

	unlock := s.locks.lock(sess.ID + "\x00" + subject.ID)
	defer unlock()

	ok, err := s.repo.Registered(ctx, sess, subject.ID)
	if err != nil {
		out.Message = "Registration lookup failed"
		return out, fmt.Errorf("registration lookup: %w", err)
	}
	if !ok {
		s.metrics.Transition(string(sess.Kind), "not-registered")
		out.Message = fmt.Sprintf("%s is not registered for %s", out.SubjectName, out.Session)
		return out, ErrNotRegistered
	}

	// Two passes: a concurrent writer elsewhere may create the record
	// between our read and insert, in which case the scan is re-evaluated
	// against what it wrote.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.repo.Record(ctx, sess, subject.ID)
		if err != nil {
			out.Message = "Attendance lookup failed"
			return out, fmt.Errorf("attendance lookup: %w", err)
		}

		st, err := m.next(existing, sess, subject.ID, s.now())
		if err != nil {
			if existing != nil {
				out.Record = *existing
			}
			out.Message = rejection(out.SubjectName, out.Session, err)
			s.metrics.Transition(string(sess.Kind), rejectionLabel(err))
			return out, err
		}

		if st.create {
			err = s.repo.CreateRecord(ctx, sess, st.record)
			if errors.Is(err, ErrRecordExists) {
				continue
			}
		} else {
			err = s.repo.UpdateRecord(ctx, sess, st.record)
		}
		if err != nil {
			out.Message = "Attendance could not be saved"
			return out, fmt.Errorf("save attendance: %w", err)
		}

		out.Action = st.action
		out.Record = st.record
		out.Flagged = st.flagged
		out.Message = confirmation(out.SubjectName, out.Session, st)
		s.metrics.Transition(string(sess.Kind), string(st.action))
		s.logger.InfoContext(ctx, "attendance recorded",
			"session_id", sess.ID,
			"subject_id", subject.ID,
			"action", st.action,
			"flagged", st.flagged,
		)
		return out, nil
	}

	out.Message = "Attendance changed concurrently, scan again"
	return out, ErrRecordExists
}

func confirmation(name, session string, st step) string {
	switch st.action {
	case ActionCheckIn:
		return fmt.Sprintf("%s checked in to %s", name, session)
	case ActionCheckOut:
		if st.flagged {
			return fmt.Sprintf("%s checked out of %s after the session ended", name, session)
		}
		return fmt.Sprintf("%s checked out of %s", name, session)
	default:
		return fmt.Sprintf("%s marked present for %s", name, session)
	}
}

func rejection(name, session string, err error) string {
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		return fmt.Sprintf("%s has already completed attendance for %s", name, session)
	case errors.Is(err, ErrSessionClosed):
		return fmt.Sprintf("%s cannot check out: %s has ended", name, session)
	default:
		return fmt.Sprintf("%s: %v", name, err)
	}
}

// Describe returns operator-facing text for an error returned by Apply.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotRegistered):
		return "Not registered for this session"
	case errors.Is(err, ErrAlreadyCompleted):
		return "Attendance already completed"
	case errors.Is(err, ErrSessionClosed):
		return "Session has ended"
	case errors.Is(err, ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, ErrUnknownKind):
		return "Session has no attendance mode"
	default:
		return "Attendance could not be recorded"
	}
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		return "already-completed"
	case errors.Is(err, ErrSessionClosed):
		return "session-closed"
	default:
		return "error"
	}
}

func displayName(s identity.Subject) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func sessionTitle(s Session) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// pairLocks hands out one mutex per key, dropping it once unused.
type pairLocks struct {
	mu sync.Mutex
	m  map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func (p *pairLocks) lock(key string) func() {
	p.mu.Lock()
	if p.m == nil {
		p.m = make(map[string]*pairLock)
	}
	l, ok := p.m[key]
	if !ok {
		l = &pairLock{}
		p.m[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.m, key)
		}
		p.mu.Unlock()
	}
}

func (p *pairLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
