package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

// ErrRecordExists is returned by CreateRecord when the pair already has a record.
var ErrRecordExists = errors.New("attendance record already exists")

// Repository persists sessions, registrations and attendance records.
type Repository interface {
	Session(ctx context.Context, id string) (Session, error)
	Registered(ctx context.Context, sess Session, subjectID string) (bool, error)
	// Record returns nil, nil when the pair has no record yet.
	Record(ctx context.Context, sess Session, subjectID string) (*Record, error)
	CreateRecord(ctx context.Context, sess Session, rec Record) error
	UpdateRecord(ctx context.Context, sess Session, rec Record) error
}

// Collection names.
const (
	CollectionSessions          = "sessions"
	CollectionExamRegistrations = "examRegistrations"
	CollectionClassEnrollments  = "classEnrollments"
	CollectionExamAttendance    = "examAttendance"
	CollectionClassAttendance   = "classAttendance"
)

// shape is one way a collection may spell the session and subject fields.
type shape struct {
	collection   string
	sessionField string
	subjectField string
}

// Older deployments kept exams and classes in their own collections and
// used different field names for the same references.
var (
	sessionSources = []struct {
		collection string
		kind       Kind
	}{
		{CollectionSessions, ""},
		{"exams", KindExam},
		{"classes", KindClass},
	}

	registrationShapes = map[Kind][]shape{
		KindExam: {
			{CollectionExamRegistrations, "sessionId", "studentId"},
			{CollectionExamRegistrations, "examId", "studentId"},
			{"registrations", "examId", "subjectId"},
		},
		KindClass: {
			{CollectionClassEnrollments, "sessionId", "studentId"},
			{CollectionClassEnrollments, "classId", "studentId"},
		},
	}

	recordShapes = map[Kind][]shape{
		KindExam: {
			{CollectionExamAttendance, "sessionId", "studentId"},
			{CollectionExamAttendance, "examId", "studentId"},
		},
		KindClass: {
			{CollectionClassAttendance, "sessionId", "studentId"},
			{"attendance", "sessionId", "userId"},
		},
	}
)

// DocumentRepository implements Repository over a document store.
type DocumentRepository struct {
	docs store.Documents
}

// NewDocumentRepository wraps docs.
func NewDocumentRepository(docs store.Documents) *DocumentRepository {
	return &DocumentRepository{docs: docs}
}

func (r *DocumentRepository) Session(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionNotFound
	}
	for _, src := range sessionSources {
		doc, err := r.docs.Get(ctx, src.collection, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Session{}, fmt.Errorf("load session %s: %w", id, err)
		}
		return sessionFromDoc(doc, src.kind), nil
	}
	return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

func sessionFromDoc(doc store.Document, kind Kind) Session {
	s := Session{
		ID:    doc.ID(),
		Kind:  Kind(doc.String("kind")),
		Title: doc.First("title", "name", "courseName", "examName"),
		Venue: doc.First("venue", "location"),
	}
	if s.Kind == "" {
		s.Kind = kind
	}
	if t, ok := doc.Time("startsAt"); ok {
		s.StartsAt = t
	} else if t, ok := doc.Time("startTime"); ok {
		s.StartsAt = t
	}
	if t, ok := doc.Time("endsAt"); ok {
		s.EndsAt = t
	} else if t, ok := doc.Time("endTime"); ok {
		s.EndsAt = t
	}
	return s
}

// Registered reports whether any registration shape lists the pair. A
// lookup error is returned only when no shape could be queried.
func (r *DocumentRepository) Registered(ctx context.Context, sess Session, subjectID string) (bool, error) {
	shapes := registrationShapes[sess.Kind]
	var errs []error
	for _, sh := range shapes {
		docs, err := r.docs.Find(ctx, sh.collection, pair(sh, sess.ID, subjectID))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(docs) > 0 {
			return true, nil
		}
	}
	if len(shapes) > 0 && len(errs) == len(shapes) {
		return false, errors.Join(errs...)
	}
	return false, nil
}

func (r *DocumentRepository) Record(ctx context.Context, sess Session, subjectID string) (*Record, error) {
	shapes, ok := recordShapes[sess.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, sess.Kind)
	}
	doc, err := r.docs.Get(ctx, shapes[0].collection, RecordID(sess.ID, subjectID))
	switch {
	case err == nil:
		rec := recordFromDoc(doc, shapes[0])
		return &rec, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load record: %w", err)
	}

	// Records written before ids were derived from the pair.
	for _, sh := range shapes {
		docs, err := r.docs.Find(ctx, sh.collection, pair(sh, sess.ID, subjectID))
		if err != nil {
			return nil, fmt.Errorf("find record in %s: %w", sh.collection, err)
		}
		if len(docs) > 0 {
			rec := recordFromDoc(docs[0], sh)
			return &rec, nil
		}
	}
	return nil, nil
}

func (r *DocumentRepository) CreateRecord(ctx context.Context, sess Session, rec Record) error {
	coll, err := recordCollection(sess.Kind)
	if err != nil {
		return err
	}
	_, err = r.docs.Insert(ctx, coll, recordDoc(rec))
	if errors.Is(err, store.ErrConflict) {
		return ErrRecordExists
	}
	return err
}

func (r *DocumentRepository) UpdateRecord(ctx context.Context, sess Session, rec Record) error {
	coll, err := recordCollection(sess.Kind)
	if err != nil {
		return err
	}
	if err := r.docs.Update(ctx, coll, rec.ID, recordDoc(rec)); err != nil {
		return fmt.Errorf("update record %s: %w", rec.ID, err)
	}
	return nil
}

func recordCollection(kind Kind) (string, error) {
	shapes, ok := recordShapes[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return shapes[0].collection, nil
}

func pair(sh shape, sessionID, subjectID string) store.Query {
	q := store.Where(store.Eq(sh.sessionField, sessionID), store.Eq(sh.subjectField, subjectID))
	q.Limit = 1
	return q
}

func recordDoc(rec Record) store.Document {
	doc := store.Document{
		"id":           rec.ID,
		"sessionId":    rec.SessionID,
		"studentId":    rec.SubjectID,
		"status":       string(rec.Status),
		"lateCheckOut": rec.LateCheckOut,
	}
	if rec.CheckInTime != nil {
		doc["checkInTime"] = rec.CheckInTime.UTC().Format(time.RFC3339Nano)
	}
	if rec.CheckOutTime != nil {
		doc["checkOutTime"] = rec.CheckOutTime.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func recordFromDoc(doc store.Document, sh shape) Record {
	rec := Record{
		ID:           doc.ID(),
		SessionID:    doc.String(sh.sessionField),
		SubjectID:    doc.String(sh.subjectField),
		Status:       Status(doc.String("status")),
		LateCheckOut: doc.String("lateCheckOut") == "true",
	}
	if t, ok := doc.Time("checkInTime"); ok {
		rec.CheckInTime = &t
	}
	if t, ok := doc.Time("checkOutTime"); ok {
		rec.CheckOutTime = &t
	}
	return rec
}
