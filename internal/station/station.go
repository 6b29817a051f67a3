// Package station runs operator scan sessions: wait for the next tag on the
// hub, identify it, and record attendance when a session is selected.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/attendance"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/fanout"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/identity"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/metrics"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/scan"
)

// ErrScanTimeout means no tag arrived before the listening window closed.
var ErrScanTimeout = errors.New("no scan before timeout")

// DefaultTimeout applies when a Request carries none.
const DefaultTimeout = 30 * time.Second

// Request selects what a scan is for. An empty SessionID only identifies
// the subject.
type Request struct {
	SessionID  string              `json:"session_id,omitempty"`
	Capability identity.Capability `json:"capability,omitempty"`
	Timeout    time.Duration       `json:"-"`
}

// Result is reported for every scan attempt, successful or not.
type Result struct {
	Token   string              `json:"token,omitempty"`
	Source  scan.Source         `json:"source,omitempty"`
	Subject *identity.Subject   `json:"subject,omitempty"`
	Outcome *attendance.Outcome `json:"outcome,omitempty"`
	Message string              `json:"message"`
}

// Station wires the hub, resolver and attendance service together.
type Station struct {
	hub      *fanout.Hub
	resolver *identity.Resolver
	svc      *attendance.Service
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a station. timeout <= 0 uses DefaultTimeout.
func New(hub *fanout.Hub, resolver *identity.Resolver, svc *attendance.Service, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Station {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Station{
		hub:      hub,
		resolver: resolver,
		svc:      svc,
		timeout:  timeout,
		logger:   logging.OrDiscard(logger),
		metrics:  m,
	}
}

// Listen waits for the next broadcast scan and processes it. If the window
// closes first, ErrScanTimeout is returned and nothing is applied.
func (s *Station) Listen(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	l := s.hub.Subscribe(1)
	defer l.Close()

	wait, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg := <-l.C():
		l.Close()
		return s.Process(ctx, msg.ID, msg.Source, req)
	case <-wait.Done():
		if err := ctx.Err(); err != nil {
			return Result{Message: "Scan cancelled"}, err
		}
		s.metrics.StationTimeout()
		s.logger.InfoContext(ctx, "scan window elapsed", "session_id", req.SessionID, "timeout", timeout)
		return Result{Message: fmt.Sprintf("No tag scanned within %s", timeout)}, ErrScanTimeout
	}
}

// Process resolves token and, when req names a session, applies it.
func (s *Station) Process(ctx context.Context, token string, src scan.Source, req Request) (Result, error) {
	res := Result{Token: token, Source: src}

	subject, err := s.resolver.Resolve(ctx, token, req.Capability)
	var denied *identity.CapabilityDeniedError
	switch {
	case errors.As(err, &denied):
		s.metrics.Resolution("denied")
		res.Subject = &subject
		res.Message = fmt.Sprintf("Access denied: %s", denied.Error())
		return res, err
	case errors.Is(err, identity.ErrSubjectNotFound):
		s.metrics.Resolution("not-found")
		res.Message = fmt.Sprintf("No student found for tag %s", token)
		return res, err
	case errors.Is(err, identity.ErrEmptyToken):
		s.metrics.Resolution("empty")
		res.Message = "Empty scan"
		return res, err
	case err != nil:
		s.metrics.Resolution("error")
		res.Message = "Identity lookup failed"
		return res, err
	}
	s.metrics.Resolution("matched")
	res.Subject = &subject

	if req.SessionID == "" {
		res.Message = fmt.Sprintf("Identified %s", subject.Name)
		return res, nil
	}

	out, err := s.svc.Apply(ctx, subject, req.SessionID)
	res.Outcome = &out
	res.Message = out.Message
	if err != nil {
		s.logger.InfoContext(ctx, "scan rejected",
			"session_id", req.SessionID,
			"subject_id", subject.ID,
			"error", err,
		)
	}
	return res, err
}
