package scan

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the kind of scanner that produced a token.
type Source string

const (
	SourceFingerprint Source = "fingerprint"
	SourceNFC         Source = "nfc"
	SourceBarcode     Source = "barcode"
	SourceSerial      Source = "serial"
)

// ParseSource maps a free-form source name onto a known Source.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceFingerprint, SourceNFC, SourceBarcode, SourceSerial:
		return src, nil
	default:
		return "", fmt.Errorf("unknown scan source %q", s)
	}
}

// Event is one hardware read. It is handed to listeners and the
// attendance flow but never persisted as-is.
type Event struct {
	Token      string    `json:"token"`
	Source     Source    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewEvent stamps a token with its source and the current time.
func NewEvent(token string, src Source) Event {
	return Event{Token: token, Source: src, ObservedAt: time.Now().UTC()}
}
