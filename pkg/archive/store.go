package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// createdAtLayout is fixed width so created_at sorts lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// Info is the listing row for a stored bundle.
type Info struct {
	BundleID   string    `json:"bundle_id"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	BundleHash string    `json:"bundle_hash"`
}

// SQLStore keeps bundles in a single table. The payload column holds the
// bundle JSON; the other columns are for listing.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore wraps an open database. driver selects the placeholder
// dialect.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// Open connects to dsn and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	s, _ := NewSQLStore(db, driver)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Init creates the bundles table if needed.
func (s *SQLStore) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ledger_bundles (
		bundle_id TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		created_at TEXT NOT NULL,
		bundle_hash TEXT NOT NULL,
		payload TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Save inserts b. Bundles are immutable, so saving an existing ID fails.
func (s *SQLStore) Save(ctx context.Context, b *Bundle) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("archive: encode bundle: %w", err)
	}
	query := s.rebind(`INSERT INTO ledger_bundles (bundle_id, version, created_at, bundle_hash, payload) VALUES (?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		b.BundleID, b.Version, b.CreatedAt.UTC().Format(createdAtLayout), b.BundleHash, string(payload))
	if err != nil {
		return fmt.Errorf("archive: insert bundle %s: %w", b.BundleID, err)
	}
	return nil
}

// Load returns the bundle with the given ID.
func (s *SQLStore) Load(ctx context.Context, bundleID string) (*Bundle, error) {
	query := s.rebind(`SELECT payload FROM ledger_bundles WHERE bundle_id = ?`)
	var payload string
	err := s.db.QueryRowContext(ctx, query, bundleID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, bundleID)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load bundle %s: %w", bundleID, err)
	}
	var b Bundle
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("archive: decode bundle %s: %w", bundleID, err)
	}
	return &b, nil
}

// List returns up to limit bundles, newest first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Info, error) {
	query := s.rebind(`SELECT bundle_id, version, created_at, bundle_hash FROM ledger_bundles ORDER BY created_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list bundles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Info{}
	for rows.Next() {
		var (
			info      Info
			createdAt string
		)
		if err := rows.Scan(&info.BundleID, &info.Version, &createdAt, &info.BundleHash); err != nil {
			return nil, fmt.Errorf("archive: scan bundle: %w", err)
		}
		info.CreatedAt, err = time.Parse(createdAtLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("archive: bundle %s: bad created_at %q: %w", info.BundleID, createdAt, err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
