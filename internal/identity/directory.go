package identity

import (
	"context"
	"fmt"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

// CollectionStudents holds subject documents.
const CollectionStudents = "students"

// StoreDirectory reads subjects from the students collection.
type StoreDirectory struct {
	docs store.Documents
}

// NewStoreDirectory wraps docs.
func NewStoreDirectory(docs store.Documents) *StoreDirectory {
	return &StoreDirectory{docs: docs}
}

// SubjectsByTag returns every student whose tagId is one of tags.
func (d *StoreDirectory) SubjectsByTag(ctx context.Context, tags []string) ([]Subject, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	docs, err := d.docs.Find(ctx, CollectionStudents, store.Where(store.In("tagId", tags)))
	if err != nil {
		return nil, fmt.Errorf("find students: %w", err)
	}
	out := make([]Subject, 0, len(docs))
	for _, doc := range docs {
		s := Subject{
			ID:    doc.ID(),
			Name:  doc.First("name", "fullName"),
			TagID: doc.String("tagId"),
		}
		for _, c := range doc.Strings("capabilities") {
			s.Capabilities = append(s.Capabilities, Capability(c))
		}
		out = append(out, s)
	}
	return out, nil
}
