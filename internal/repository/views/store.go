// Package views exposes the read-only structured views produced by the
// external aggregation job. The schema is introspected once at startup
// against a declared whitelist; this package never mutates the database.
package views

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/recall/internal/domain"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store wraps a sqlite database holding the whitelisted views.
type Store struct {
	db     *sql.DB
	views  []domain.StructuredView
	byName map[string]domain.StructuredView
}

// Open connects to the sqlite file and introspects the declared views.
// A declared view missing from the database is a startup error: the
// schema contract is fixed, not discovered.
func Open(path string, declared []string) (*Store, error) {
	if len(declared) == 0 {
		return nil, fmt.Errorf("no views declared")
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open views db: %w", err)
	}

	s := &Store{db: db, byName: make(map[string]domain.StructuredView, len(declared))}

	names := append([]string(nil), declared...)
	sort.Strings(names)

	for _, name := range names {
		view, err := s.introspect(name)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.views = append(s.views, view)
		s.byName[name] = view
	}

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Views returns the declared view schemas, sorted by name.
func (s *Store) Views() []domain.StructuredView {
	out := make([]domain.StructuredView, len(s.views))
	copy(out, s.views)
	return out
}

// View returns a declared view by name.
func (s *Store) View(name string) (domain.StructuredView, error) {
	v, ok := s.byName[name]
	if !ok {
		return domain.StructuredView{}, fmt.Errorf("view %q: %w", name, domain.ErrUnknownView)
	}
	return v, nil
}

// Query executes a validated SELECT and returns column names plus rows with
// every value rendered as a string. Callers validate before calling; this
// method adds no second line of defense beyond read-only execution.
func (s *Store) Query(ctx context.Context, query string) ([]string, [][]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var out [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}

		rec := make([]string, len(cols))
		for i, v := range raw {
			rec[i] = renderValue(v)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}

	return cols, out, nil
}

func (s *Store) introspect(name string) (domain.StructuredView, error) {
	if !validIdentifier(name) {
		return domain.StructuredView{}, fmt.Errorf("invalid view name %q", name)
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", name))
	if err != nil {
		return domain.StructuredView{}, fmt.Errorf("introspect %s: %w", name, err)
	}
	defer rows.Close()

	view := domain.StructuredView{Name: name}
	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return domain.StructuredView{}, fmt.Errorf("introspect %s: %w", name, err)
		}
		view.Columns = append(view.Columns, domain.Column{
			Name: colName,
			Type: mapColumnType(colType),
		})
	}
	if err := rows.Err(); err != nil {
		return domain.StructuredView{}, fmt.Errorf("introspect %s: %w", name, err)
	}

	if len(view.Columns) == 0 {
		return domain.StructuredView{}, fmt.Errorf("declared view %q not found in database", name)
	}
	return view, nil
}

// mapColumnType folds sqlite declared types into the four contract types.
// Unknown declarations read as text, which is always safe to render.
func mapColumnType(decl string) domain.ColumnType {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "INT"):
		return domain.ColumnInteger
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"), strings.Contains(d, "NUM"), strings.Contains(d, "DEC"):
		return domain.ColumnReal
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return domain.ColumnTimestamp
	default:
		return domain.ColumnText
	}
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		ok := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}
