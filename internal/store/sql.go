package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	Name string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// field renders a JSON field lookup whose key is bind parameter p. The
	// value is compared as text, matching Document.String.
	field func(p string) string
	// bodyParam wraps the placeholder used for a JSON body parameter.
	bodyParam func(p string) string
	// merge renders a shallow JSON merge of body with parameter p.
	merge func(p string) string
}

var (
	// PostgresDialect stores bodies as JSONB.
	PostgresDialect = Dialect{
		Name:        "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		field:       func(p string) string { return "body->>(" + p + "::text)" },
		bodyParam:   func(p string) string { return p + "::jsonb" },
		merge:       func(p string) string { return "body || " + p + "::jsonb" },
	}
	// SQLiteDialect stores bodies as JSON text.
	SQLiteDialect = Dialect{
		Name:        "sqlite3",
		placeholder: func(int) string { return "?" },
		field:       func(p string) string { return "CAST(json_extract(body, '$.' || " + p + ") AS TEXT)" },
		bodyParam:   func(p string) string { return p },
		merge:       func(p string) string { return "json_patch(body, " + p + ")" },
	}
)

// SQLDocuments implements Documents on a single "documents" table.
type SQLDocuments struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLDocuments wraps an open database.
func NewSQLDocuments(db *sql.DB, dialect Dialect) *SQLDocuments {
	return &SQLDocuments{db: db, dialect: dialect}
}

// args accumulates bind parameters and hands out their placeholders.
type args struct {
	d    Dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.placeholder(len(a.vals))
}

// Find runs a filtered, optionally ordered query over one collection.
func (s *SQLDocuments) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	a := &args{d: s.dialect}
	clauses := []string{"collection = " + a.add(collection)}
	for _, f := range q.Filters {
		clause, err := s.clause(a, f)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	query := "SELECT body FROM documents WHERE " + strings.Join(clauses, " AND ")
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		query += " ORDER BY " + s.dialect.field(a.add(q.OrderBy)) + " " + dir
	} else {
		query += " ORDER BY created_at ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT " + a.add(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		doc := Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLDocuments) clause(a *args, f Filter) (string, error) {
	switch f.Op {
	case OpEq, OpGte, OpLte:
		field := s.dialect.field(a.add(f.Field))
		return field + " " + string(f.Op) + " " + a.add(filterValue(f.Value)), nil
	case OpIn:
		values, ok := f.Value.([]string)
		if !ok {
			return "", fmt.Errorf("filter %s: in expects []string", f.Field)
		}
		if len(values) == 0 {
			return "1 = 0", nil
		}
		field := s.dialect.field(a.add(f.Field))
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = a.add(v)
		}
		return field + " IN (" + strings.Join(ph, ", ") + ")", nil
	default:
		return "", fmt.Errorf("filter %s: unsupported op %q", f.Field, f.Op)
	}
}

// Get returns one document by id.
func (s *SQLDocuments) Get(ctx context.Context, collection, id string) (Document, error) {
	a := &args{d: s.dialect}
	query := "SELECT body FROM documents WHERE collection = " + a.add(collection) + " AND id = " + a.add(id)
	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, a.vals...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Insert stores doc unless its id is taken, in which case ErrConflict is returned.
func (s *SQLDocuments) Insert(ctx context.Context, collection string, doc Document) (Document, error) {
	stored, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	if stored.ID() == "" {
		stored["id"] = uuid.NewString()
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	a := &args{d: s.dialect}
	query := "INSERT INTO documents (collection, id, body) VALUES (" +
		a.add(collection) + ", " + a.add(stored.ID()) + ", " + s.dialect.bodyParam(a.add(string(body))) +
		") ON CONFLICT (collection, id) DO NOTHING"
	res, err := s.db.ExecContext(ctx, query, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s/%s: %w", collection, stored.ID(), ErrConflict)
	}
	return stored, nil
}

// Update merges fields into the stored body.
func (s *SQLDocuments) Update(ctx context.Context, collection, id string, fields Document) error {
	patch, err := normalize(fields)
	if err != nil {
		return err
	}
	delete(patch, "id")
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	a := &args{d: s.dialect}
	set := s.dialect.merge(a.add(string(body)))
	query := "UPDATE documents SET body = " + set + ", updated_at = CURRENT_TIMESTAMP WHERE collection = " +
		a.add(collection) + " AND id = " + a.add(id)
	res, err := s.db.ExecContext(ctx, query, a.vals...)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
