package history

import (
	"context"
	"fmt"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/attendance"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

// shape is one collection and the field it keys subjects by.
type shape struct {
	collection   string
	subjectField string
}

// source is a plain module: the first shape that returns rows wins.
type source struct {
	module       Module
	shapes       []shape
	statusFields []string
}

var plainSources = []source{
	{
		module: ModuleClass,
		shapes: []shape{
			{attendance.CollectionClassAttendance, "studentId"},
			{"attendance", "userId"},
		},
		statusFields: []string{"status"},
	},
	{
		module: ModuleLibrary,
		shapes: []shape{
			{"libraryVisits", "studentId"},
			{"libraryRecords", "userId"},
		},
		statusFields: []string{"status", "action"},
	},
	{
		module: ModuleCampus,
		shapes: []shape{
			{"campusAccess", "studentId"},
			{"accessLogs", "userId"},
		},
		statusFields: []string{"direction", "status"},
	},
	{
		module: ModuleMedical,
		shapes: []shape{
			{"medicalRecords", "studentId"},
			{"medicalVisits", "patientId"},
		},
		statusFields: []string{"status"},
	},
}

var (
	registrationShapes = []shape{
		{attendance.CollectionExamRegistrations, "studentId"},
		{"registrations", "subjectId"},
	}
	examAttendanceShapes = []shape{
		{attendance.CollectionExamAttendance, "studentId"},
		{attendance.CollectionExamAttendance, "subjectId"},
	}
)

// fetch runs shapes in order and returns the first non-empty result. Errors
// are reported through fail and never returned. complete is false when the
// result is empty and at least one shape failed, so an empty slice cannot be
// trusted to mean "no rows".
func fetch(ctx context.Context, docs store.Documents, shapes []shape, subjectID string, fail func(error)) (found []store.Document, complete bool) {
	complete = true
	for _, sh := range shapes {
		rows, err := docs.Find(ctx, sh.collection, store.Where(store.Eq(sh.subjectField, subjectID)))
		if err != nil {
			fail(fmt.Errorf("%s by %s: %w", sh.collection, sh.subjectField, err))
			complete = false
			continue
		}
		if len(rows) > 0 {
			return rows, true
		}
	}
	return nil, complete
}

func (s source) events(ctx context.Context, docs store.Documents, subjectID string, fail func(error)) []Event {
	found, _ := fetch(ctx, docs, s.shapes, subjectID, fail)
	out := make([]Event, 0, len(found))
	for _, doc := range found {
		out = append(out, Event{
			ID:            doc.ID(),
			Module:        s.module,
			SubjectID:     subjectID,
			EffectiveDate: EffectiveDate(doc),
			Status:        doc.First(s.statusFields...),
			Fields:        doc,
		})
	}
	return out
}

// sessionCache memoizes session lookups for one aggregation.
type sessionCache struct {
	lookup  SessionLookup
	entries map[string]*attendance.Session
}

func (c *sessionCache) get(ctx context.Context, id string) *attendance.Session {
	if s, ok := c.entries[id]; ok {
		return s
	}
	var hit *attendance.Session
	if s, err := c.lookup.Session(ctx, id); err == nil {
		hit = &s
	}
	c.entries[id] = hit
	return hit
}

// examEvents joins registrations with attendance records by session id.
// Each registered session yields exactly one event; a session without a
// record is reported absent. When the attendance side could not be read the
// module contributes nothing rather than reporting every exam absent.
func examEvents(ctx context.Context, docs store.Documents, sessions SessionLookup, subjectID string, fail func(error)) []Event {
	regs, _ := fetch(ctx, docs, registrationShapes, subjectID, fail)
	if len(regs) == 0 {
		return nil
	}
	recs, complete := fetch(ctx, docs, examAttendanceShapes, subjectID, fail)
	if !complete {
		return nil
	}
	records := make(map[string]store.Document)
	for _, rec := range recs {
		sid := rec.First("sessionId", "examId")
		if _, dup := records[sid]; !dup {
			records[sid] = rec
		}
	}

	cache := &sessionCache{lookup: sessions, entries: make(map[string]*attendance.Session)}
	seen := make(map[string]bool, len(regs))
	out := make([]Event, 0, len(regs))
	for _, reg := range regs {
		sid := reg.First("sessionId", "examId")
		if sid == "" || seen[sid] {
			continue
		}
		seen[sid] = true

		fields := store.Document{"sessionId": sid}
		for k, v := range reg {
			fields[k] = v
		}
		ev := Event{
			ID:        reg.ID(),
			Module:    ModuleExam,
			SubjectID: subjectID,
			Status:    string(attendance.StatusAbsent),
		}
		if rec, ok := records[sid]; ok {
			for k, v := range rec {
				fields[k] = v
			}
			ev.ID = rec.ID()
			ev.Status = rec.String("status")
		}
		if sess := cache.get(ctx, sid); sess != nil {
			fields["sessionTitle"] = sess.Title
			if sess.Venue != "" {
				fields["venue"] = sess.Venue
			}
			if !sess.StartsAt.IsZero() {
				fields["startsAt"] = sess.StartsAt
			}
		}
		ev.Fields = fields
		ev.EffectiveDate = EffectiveDate(fields)
		out = append(out, ev)
	}
	return out
}
