package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
)

// Capability names the contexts a subject may appear in.
type Capability string

const (
	CapabilityMedical Capability = "medical"
	CapabilityExam    Capability = "exam"
	CapabilityLibrary Capability = "library"
	CapabilityCampus  Capability = "campus"
)

var (
	// ErrSubjectNotFound means no candidate form matched a directory tag.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrCapabilityDenied is matched by *CapabilityDeniedError.
	ErrCapabilityDenied = errors.New("capability denied")
	// ErrEmptyToken is returned for blank input.
	ErrEmptyToken = errors.New("empty scan token")
)

// CapabilityDeniedError reports a known subject that may not be used in the
// requested context. SubjectName is meant for operator display.
type CapabilityDeniedError struct {
	SubjectName string
	Capability  Capability
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("%s is not permitted for %s", e.SubjectName, e.Capability)
}

func (e *CapabilityDeniedError) Is(target error) bool { return target == ErrCapabilityDenied }

// Subject is a directory entry.
type Subject struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	TagID        string       `json:"tag_id"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Can reports whether s holds c.
func (s Subject) Can(c Capability) bool {
	return slices.Contains(s.Capabilities, c)
}

// Directory looks subjects up by exact tag id.
type Directory interface {
	SubjectsByTag(ctx context.Context, tags []string) ([]Subject, error)
}

// Resolver matches tokens against a Directory.
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil logger discards output.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logging.OrDiscard(logger)}
}

// Resolve finds the subject for token. All candidate forms are fetched in one
// directory call and matched in precedence order. When required is set and
// the subject lacks it, the subject is returned together with a
// *CapabilityDeniedError.
func (r *Resolver) Resolve(ctx context.Context, token string, required Capability) (Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Subject{}, ErrEmptyToken
	}
	candidates := Candidates(token)

	found, err := r.dir.SubjectsByTag(ctx, candidates)
	if err != nil {
		return Subject{}, fmt.Errorf("directory lookup: %w", err)
	}

	subject, ok := pick(candidates, found)
	if !ok {
		r.logger.InfoContext(ctx, "no subject for token", "token", token, "candidates", len(candidates))
		return Subject{}, ErrSubjectNotFound
	}
	if required != "" && !subject.Can(required) {
		return subject, &CapabilityDeniedError{SubjectName: subject.Name, Capability: required}
	}
	return subject, nil
}

// pick returns the subject whose tag equals the earliest candidate. Several
// subjects sharing that tag resolve to the lowest id.
func pick(candidates []string, subjects []Subject) (Subject, bool) {
	byTag := make(map[string]Subject, len(subjects))
	for _, s := range subjects {
		if cur, ok := byTag[s.TagID]; !ok || s.ID < cur.ID {
			byTag[s.TagID] = s
		}
	}
	for _, c := range candidates {
		if s, ok := byTag[c]; ok {
			return s, true
		}
	}
	return Subject{}, false
}
