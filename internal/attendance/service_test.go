package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/identity"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

var (
	t0     = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	ada    = identity.Subject{ID: "S1", Name: "Ada Obi"}
	nobody = identity.Subject{ID: "S9", Name: "Not Listed"}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seed(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	docs := store.NewMemory()
	for coll, list := range map[string][]store.Document{
		CollectionSessions: {
			{"id": "E1", "kind": "exam", "title": "Algebra I", "startsAt": "2026-05-04T08:30:00Z", "endsAt": "2026-05-04T11:00:00Z"},
			{"id": "C1", "kind": "class", "title": "Physics"},
		},
		CollectionExamRegistrations: {{"id": "R1", "sessionId": "E1", "studentId": "S1"}},
		CollectionClassEnrollments:  {{"id": "N1", "sessionId": "C1", "studentId": "S1"}},
	} {
		for _, d := range list {
			_, err := docs.Insert(ctx, coll, d)
			require.NoError(t, err)
		}
	}
	return docs
}

func newService(t *testing.T, docs store.Documents, opts ...Option) (*Service, *clock) {
	t.Helper()
	c := &clock{now: t0}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return NewService(NewDocumentRepository(docs), opts...), c
}

func TestApply_ExamCheckInThenCheckOut(t *testing.T) {
	ctx := context.Background()
	docs := seed(t)
	svc, c := newService(t, docs)

	in, err := svc.Apply(ctx, ada, "E1")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, in.Action)
	assert.Equal(t, StatusInProgress, in.Record.Status)
	assert.Equal(t, "Ada Obi checked in to Algebra I", in.Message)

	c.Advance(90 * time.Minute)
	out, err := svc.Apply(ctx, ada, "E1")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, out.Action)
	assert.Equal(t, StatusCompleted, out.Record.Status)
	assert.Equal(t, in.Record.ID, out.Record.ID)
	require.NotNil(t, out.Record.CheckOutTime)
	assert.Equal(t, t0.Add(90*time.Minute), *out.Record.CheckOutTime)

	again, err := svc.Apply(ctx, ada, "E1")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, "Ada Obi has already completed attendance for Algebra I", again.Message)

	recs, err := docs.Find(ctx, CollectionExamAttendance, store.Where())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "completed", recs[0].String("status"))
	assert.Equal(t, RecordID("E1", "S1"), recs[0].ID())
}

func TestApply_ClassSingleMark(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, seed(t))

	out, err := svc.Apply(ctx, ada, "C1")
	require.NoError(t, err)
	assert.Equal(t, ActionPresent, out.Action)
	assert.Equal(t, StatusPresent, out.Record.Status)

	_, err = svc.Apply(ctx, ada, "C1")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestApply_NotRegisteredCreatesNothing(t *testing.T) {
	ctx := context.Background()
	docs := seed(t)
	svc, _ := newService(t, docs)

	out, err := svc.Apply(ctx, nobody, "E1")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Equal(t, "Not Listed is not registered for Algebra I", out.Message)

	recs, err := docs.Find(ctx, CollectionExamAttendance, store.Where())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestApply_UnknownSession(t *testing.T) {
	svc, _ := newService(t, seed(t))
	out, err := svc.Apply(context.Background(), ada, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, "Session not found: missing", out.Message)
}

func TestApply_LatePolicies(t *testing.T) {
	tests := []struct {
		policy  LatePolicy
		wantErr error
		flagged bool
	}{
		{LateAccept, nil, false},
		{LateFlag, nil, true},
		{LateReject, ErrSessionClosed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			ctx := context.Background()
			svc, c := newService(t, seed(t), WithLatePolicy(tt.policy))

			_, err := svc.Apply(ctx, ada, "E1")
			require.NoError(t, err)

			c.Advance(3 * time.Hour)
			out, err := svc.Apply(ctx, ada, "E1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, StatusInProgress, out.Record.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.flagged, out.Flagged)
			assert.Equal(t, tt.flagged, out.Record.LateCheckOut)
		})
	}
}

func TestApply_ConcurrentDuplicateScansCreateOneRecord(t *testing.T) {
	ctx := context.Background()
	docs := seed(t)
	svc, _ := newService(t, docs)

	const n = 8
	var wg sync.WaitGroup
	actions := make(chan Action, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Apply(ctx, ada, "E1")
			if err == nil {
				actions <- out.Action
			}
		}()
	}
	wg.Wait()
	close(actions)

	counts := map[Action]int{}
	for a := range actions {
		counts[a]++
	}
	assert.Equal(t, 1, counts[ActionCheckIn])
	assert.Equal(t, 1, counts[ActionCheckOut])

	recs, err := docs.Find(ctx, CollectionExamAttendance, store.Where())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Zero(t, svc.locks.size())
}

// racingRepo simulates another process inserting the record between the
// read and the insert.
type racingRepo struct {
	Repository
	raced bool
}

func (r *racingRepo) CreateRecord(ctx context.Context, sess Session, rec Record) error {
	if !r.raced {
		r.raced = true
		if err := r.Repository.CreateRecord(ctx, sess, rec); err != nil {
			return err
		}
		return ErrRecordExists
	}
	return r.Repository.CreateRecord(ctx, sess, rec)
}

func TestApply_InsertConflictReevaluates(t *testing.T) {
	ctx := context.Background()
	docs := seed(t)
	repo := &racingRepo{Repository: NewDocumentRepository(docs)}
	svc := NewService(repo, WithClock(func() time.Time { return t0 }))

	out, err := svc.Apply(ctx, ada, "E1")

	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, out.Action)
}

func TestRepository_LegacyShapes(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	for coll, d := range map[string]store.Document{
		"exams":         {"id": "E7", "name": "Chemistry", "endTime": "2026-05-04T12:00:00Z"},
		"registrations": {"id": "R7", "examId": "E7", "subjectId": "S1"},
		CollectionExamAttendance: {
			"id": "legacy", "examId": "E7", "studentId": "S1",
			"checkInTime": "2026-05-04T09:10:00Z", "status": "in-progress",
		},
	} {
		_, err := docs.Insert(ctx, coll, d)
		require.NoError(t, err)
	}
	repo := NewDocumentRepository(docs)

	sess, err := repo.Session(ctx, "E7")
	require.NoError(t, err)
	assert.Equal(t, KindExam, sess.Kind)
	assert.Equal(t, "Chemistry", sess.Title)
	assert.Equal(t, time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC), sess.EndsAt)

	ok, err := repo.Registered(ctx, sess, "S1")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := repo.Record(ctx, sess, "S1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "legacy", rec.ID)
	assert.Equal(t, "E7", rec.SessionID)

	svc := NewService(repo, WithClock(func() time.Time { return t0 }))
	out, err := svc.Apply(ctx, ada, "E7")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, out.Action)
	assert.Equal(t, "legacy", out.Record.ID)
}

type failingDocs struct{ store.Documents }

func (failingDocs) Find(context.Context, string, store.Query) ([]store.Document, error) {
	return nil, errors.New("db down")
}

func TestRepository_RegistrationErrorSurfaces(t *testing.T) {
	repo := NewDocumentRepository(failingDocs{store.NewMemory()})
	_, err := repo.Registered(context.Background(), Session{ID: "E1", Kind: KindExam}, "S1")
	assert.ErrorContains(t, err, "db down")
}

func TestParseLatePolicy(t *testing.T) {
	p, err := ParseLatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, LateAccept, p)

	p, err = ParseLatePolicy(" Flag ")
	require.NoError(t, err)
	assert.Equal(t, LateFlag, p)

	_, err = ParseLatePolicy("later")
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Not registered for this session", Describe(ErrNotRegistered))
	assert.Equal(t, "Session not found", Describe(errors.Join(errors.New("x"), ErrSessionNotFound)))
	assert.Empty(t, Describe(nil))
}
