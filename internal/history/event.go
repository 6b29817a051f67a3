// Package history assembles a subject's activity across every campus module
// into one timeline. Sources are queried independently and a failing source
// only empties its own module.
package history

import (
	"time"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

// Module names a history source.
type Module string

const (
	ModuleClass   Module = "Class Attendance"
	ModuleExam    Module = "Exam Attendance"
	ModuleLibrary Module = "Library"
	ModuleCampus  Module = "Campus Access"
	ModuleMedical Module = "Medical"
)

// Modules lists every module in presentation order.
var Modules = []Module{ModuleClass, ModuleExam, ModuleLibrary, ModuleCampus, ModuleMedical}

func (m Module) rank() int {
	for i, x := range Modules {
		if x == m {
			return i
		}
	}
	return len(Modules)
}

// Event is one timeline entry. It is computed on read and never stored.
type Event struct {
	ID            string         `json:"id"`
	Module        Module         `json:"module"`
	SubjectID     string         `json:"subjectId"`
	EffectiveDate time.Time      `json:"effectiveDate"`
	Status        string         `json:"status,omitempty"`
	Fields        store.Document `json:"fields,omitempty"`
}

// Timeline is the merged result, newest first, plus the same events grouped
// by module.
type Timeline struct {
	SubjectID string             `json:"subjectId"`
	Events    []Event            `json:"events"`
	ByModule  map[Module][]Event `json:"byModule"`
}

// DateFields is the order in which an event's date is looked up.
var DateFields = []string{
	"checkInTime",
	"checkOutTime",
	"registeredAt",
	"createdAt",
	"timestamp",
	"visitDate",
	"date",
}

// EffectiveDate returns the first DateFields entry of doc that holds a
// readable time. Documents with none get the zero time and sort oldest.
func EffectiveDate(doc store.Document) time.Time {
	for _, f := range DateFields {
		if t, ok := doc.Time(f); ok {
			return t
		}
	}
	return time.Time{}
}
