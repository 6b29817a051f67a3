package history

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/attendance"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/metrics"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

// SessionLookup resolves session metadata for the exam join.
type SessionLookup interface {
	Session(ctx context.Context, id string) (attendance.Session, error)
}

// Aggregator builds timelines from a document store.
type Aggregator struct {
	docs     store.Documents
	sessions SessionLookup
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewAggregator creates an aggregator. sessions may be nil, in which case
// sessions are read from docs.
func NewAggregator(docs store.Documents, sessions SessionLookup, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	if sessions == nil {
		sessions = attendance.NewDocumentRepository(docs)
	}
	return &Aggregator{
		docs:     docs,
		sessions: sessions,
		logger:   logging.OrDiscard(logger),
		metrics:  m,
	}
}

// Timeline queries every module concurrently and merges the results. It
// only fails when ctx is done before the sources finish.
func (a *Aggregator) Timeline(ctx context.Context, subjectID string) (Timeline, error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAggregate(time.Since(start)) }()

	results := make([][]Event, len(Modules))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range Modules {
		fail := a.failer(gctx, m, subjectID)
		g.Go(func() error {
			if m == ModuleExam {
				results[i] = examEvents(gctx, a.docs, a.sessions, subjectID, fail)
				return nil
			}
			for _, src := range plainSources {
				if src.module == m {
					results[i] = src.events(gctx, a.docs, subjectID, fail)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Timeline{}, err
	}

	var events []Event
	for _, r := range results {
		events = append(events, r...)
	}
	sortEvents(events)

	byModule := make(map[Module][]Event, len(Modules))
	for _, m := range Modules {
		byModule[m] = []Event{}
	}
	for _, ev := range events {
		byModule[ev.Module] = append(byModule[ev.Module], ev)
	}
	if events == nil {
		events = []Event{}
	}
	return Timeline{SubjectID: subjectID, Events: events, ByModule: byModule}, nil
}

func (a *Aggregator) failer(ctx context.Context, m Module, subjectID string) func(error) {
	return func(err error) {
		a.metrics.SourceFailed(string(m))
		a.logger.WarnContext(ctx, "history source query failed",
			"module", m,
			"subject_id", subjectID,
			"error", err,
		)
	}
}

// sortEvents orders newest first. Equal dates fall back to module order and
// then id so output is stable across runs.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.After(b.EffectiveDate)
		}
		if ra, rb := a.Module.rank(), b.Module.rank(); ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})
}
