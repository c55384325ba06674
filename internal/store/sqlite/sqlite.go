// Package sqlite is an alternate storage.Repository backend kept alongside
// the in-memory repository (internal/store/memory) to show the interface
// is swappable, grounded on the teacher's internal/store/sqlite — its
// connection pooling, PRAGMA tuning, and append-only migration runner are
// kept nearly verbatim; its event admission and query logic are rewritten
// against storage.Repository and event.Classify.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/nips/nip09"
	"github.com/strtr/relay/pkg/storage"
)

// Options holds database configuration options.
type Options struct {
	// MaxOpenConns is the maximum number of open connections to the database.
	// If MaxOpenConns is 0 or negative, there is no limit.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections to the database.
	// If MaxIdleConns is negative, no idle connections are retained.
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum duration of time that a database
	// connection may be reused. If 0, connections are reused forever.
	ConnMaxLifetime time.Duration

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	EnableWAL bool

	// CacheSize sets the database cache size in pages (negative = KB).
	CacheSize int

	// BusyTimeout sets the busy timeout.
	BusyTimeout time.Duration
}

// DefaultOptions returns default database options.
func DefaultOptions() *Options {
	return &Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		EnableWAL:       true,
		CacheSize:       -2000,
		BusyTimeout:     5 * time.Second,
	}
}

// Store is a SQLite-backed storage.Repository.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// New creates a new SQLite store with autoconfiguration.
func New(dbPath string) (*Store, error) {
	return NewWithOptions(dbPath, DefaultOptions())
}

// NewWithOptions creates a new SQLite store with custom options.
func NewWithOptions(dbPath string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	if err := store.configurePerformance(opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure performance: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) configurePerformance(opts *Options) error {
	if opts.EnableWAL {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if opts.CacheSize != 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA cache_size=%d;", opts.CacheSize)); err != nil {
			return fmt.Errorf("failed to set cache size: %w", err)
		}
	}
	if opts.BusyTimeout > 0 {
		timeoutMs := int(opts.BusyTimeout.Milliseconds())
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", timeoutMs)); err != nil {
			return fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA temp_store=MEMORY;"); err != nil {
		return fmt.Errorf("failed to set temp store: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

type migration struct {
	version int
	sql     string
}

// migrations is append-only: once applied in a deployed database, a
// migration's SQL is never edited or removed, even after the feature it
// supported (NIP-28 channels, migration 3) is dropped from the rest of the
// tree — rewriting migration history would break upgrades from an
// already-migrated database.
var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			tags TEXT,
			content TEXT NOT NULL,
			sig TEXT NOT NULL,
			replaceable_addr TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
		CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
		CREATE INDEX IF NOT EXISTS idx_events_kind_created_at ON events(kind, created_at);
		CREATE INDEX IF NOT EXISTS idx_events_replaceable_addr ON events(replaceable_addr);
		`,
	},
	{
		version: 2,
		sql: `
		CREATE TABLE IF NOT EXISTS deleted_events (
			id TEXT PRIMARY KEY,
			deleter_pubkey TEXT NOT NULL,
			deleted_at INTEGER NOT NULL
		);
		`,
	},
	{
		version: 3,
		sql: `
		CREATE TABLE IF NOT EXISTS channel_events (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			tags TEXT,
			content TEXT NOT NULL,
			sig TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_channel_events_channel_id ON channel_events(channel_id);
		`,
	},
}

func (s *Store) runMigrations() error {
	for _, m := range migrations {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if m.version == 1 {
			// A pre-migration events table has no replaceable_addr column;
			// add it so migration 1's index on that column can be created.
			var cols, hasAddr int
			if err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(name = 'replaceable_addr'), 0) FROM pragma_table_info('events')").Scan(&cols, &hasAddr); err != nil {
				return fmt.Errorf("failed to inspect events table: %w", err)
			}
			if cols > 0 && hasAddr == 0 {
				if _, err := s.db.Exec("ALTER TABLE events ADD COLUMN replaceable_addr TEXT"); err != nil {
					return fmt.Errorf("failed to add replaceable_addr column: %w", err)
				}
			}
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Insert applies storage.Repository's admission rule: duplicate/deleted
// rejection, the NIP-09 deletion cascade, replaceable-event reconciliation
// by address, or a plain insert — the same decision tree as
// internal/store/memory.Repository.Insert, expressed as SQL instead of
// in-process maps.
func (s *Store) Insert(ctx context.Context, ev *event.Event) (storage.InsertOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.InsertOK, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT 1 FROM events WHERE id = ?", ev.ID).Scan(&exists); err == nil {
		return storage.InsertDuplicate, nil
	} else if err != sql.ErrNoRows {
		return storage.InsertOK, fmt.Errorf("failed to check duplicate: %w", err)
	}

	var deleted int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM deleted_events WHERE id = ?", ev.ID).Scan(&deleted)
	if err == nil {
		return storage.InsertDeleted, nil
	} else if err != sql.ErrNoRows {
		return storage.InsertOK, fmt.Errorf("failed to check deletion status: %w", err)
	}

	switch {
	case nip09.IsDeletionEvent(ev):
		if err := s.insertEventTx(ctx, tx, ev, ""); err != nil {
			return storage.InsertOK, err
		}
		for _, id := range nip09.TargetEventIDs(ev) {
			if err := s.deleteByIDTx(ctx, tx, id, ev.PubKey); err != nil {
				return storage.InsertOK, err
			}
		}
		for _, addr := range nip09.TargetAddresses(ev) {
			if err := s.deleteByAddrTx(ctx, tx, addr, ev.PubKey); err != nil {
				return storage.InsertOK, err
			}
		}
	case event.Classify(ev.Kind).IsReplaceable():
		if err := s.reconcileReplaceableTx(ctx, tx, ev); err != nil {
			return storage.InsertOK, err
		}
	default:
		if err := s.insertEventTx(ctx, tx, ev, ""); err != nil {
			return storage.InsertOK, err
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.InsertOK, fmt.Errorf("failed to commit insert: %w", err)
	}
	return storage.InsertOK, nil
}

func (s *Store) insertEventTx(ctx context.Context, tx *sql.Tx, ev *event.Event, addr string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (id, pubkey, created_at, kind, tags, content, sig, replaceable_addr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, tagsToJSON(ev.Tags), ev.Content, ev.Sig, nullableString(addr))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// reconcileReplaceableTx applies event.IsNewer's total order against the
// event currently retained at ev's replaceable address, mirroring
// internal/store/memory.replaceableTracker.replace: the first event at an
// address is always stored, afterward only a strictly newer one replaces it.
func (s *Store) reconcileReplaceableTx(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	addr := event.ReplaceableAddress(ev)

	var existingID, existingPubkey string
	var existingCreatedAt int64
	var existingTagsJSON, existingContent, existingSig string
	var existingKind int
	err := tx.QueryRowContext(ctx, `
		SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE replaceable_addr = ?
	`, addr).Scan(&existingID, &existingPubkey, &existingCreatedAt, &existingKind, &existingTagsJSON, &existingContent, &existingSig)

	if err == sql.ErrNoRows {
		return s.insertEventTx(ctx, tx, ev, addr)
	}
	if err != nil {
		return fmt.Errorf("failed to look up replaceable address: %w", err)
	}

	existing := &event.Event{
		ID: existingID, PubKey: existingPubkey, CreatedAt: existingCreatedAt,
		Kind: existingKind, Content: existingContent, Sig: existingSig,
		Tags: jsonToTags(existingTagsJSON),
	}
	if !event.IsNewer(ev, existing) {
		return nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", existing.ID); err != nil {
		return fmt.Errorf("failed to remove overwritten replaceable event: %w", err)
	}
	return s.insertEventTx(ctx, tx, ev, addr)
}

func (s *Store) deleteByIDTx(ctx context.Context, tx *sql.Tx, id, requester string) error {
	var author string
	var kind int
	err := tx.QueryRowContext(ctx, "SELECT pubkey, kind FROM events WHERE id = ?", id).Scan(&author, &kind)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up deletion target %s: %w", id, err)
	}
	if author != requester || kind == event.DeletionKind {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO deleted_events (id, deleter_pubkey, deleted_at) VALUES (?, ?, ?)",
		id, requester, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to mark event %s deleted: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove deleted event %s: %w", id, err)
	}
	return nil
}

func (s *Store) deleteByAddrTx(ctx context.Context, tx *sql.Tx, addr, requester string) error {
	var id, author string
	err := tx.QueryRowContext(ctx, "SELECT id, pubkey FROM events WHERE replaceable_addr = ?", addr).Scan(&id, &author)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up replaceable delete target %s: %w", addr, err)
	}
	if author != requester {
		return nil
	}
	return s.deleteByIDTx(ctx, tx, id, requester)
}

// Query streams events matching any of filters, each filter independently
// capped at its effective limit, newest first, per storage.Repository.
func (s *Store) Query(ctx context.Context, filters []*event.Filter) ([]*event.Event, error) {
	var results []*event.Event
	seen := make(map[string]bool)

	for _, f := range filters {
		if f.IsTriviallyUnsatisfiable() {
			continue
		}
		limit := f.EffectiveLimit()
		if limit == 0 {
			continue
		}
		events, err := s.queryFilter(ctx, f, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to query filter: %w", err)
		}
		for _, evt := range events {
			if !seen[evt.ID] {
				results = append(results, evt)
				seen[evt.ID] = true
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt > results[j].CreatedAt
	})
	return results, nil
}

func (s *Store) queryFilter(ctx context.Context, f *event.Filter, limit int) ([]*event.Event, error) {
	var conditions []string
	var args []interface{}

	if f.HasIDs() {
		placeholders := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		conditions = append(conditions, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.HasAuthors() {
		placeholders := make([]string, len(f.Authors))
		for i, a := range f.Authors {
			placeholders[i] = "?"
			args = append(args, a)
		}
		conditions = append(conditions, "pubkey IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.HasKinds() {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *f.Until)
	}

	query := "SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE id NOT IN (SELECT id FROM deleted_events)"
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt := &event.Event{}
		var tagsJSON sql.NullString
		if err := rows.Scan(&evt.ID, &evt.PubKey, &evt.CreatedAt, &evt.Kind, &tagsJSON, &evt.Content, &evt.Sig); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		evt.Tags = jsonToTags(tagsJSON.String)
		if f.Match(evt) {
			events = append(events, evt)
		}
	}
	return events, rows.Err()
}

// GetByID retrieves a single non-deleted event by id, per storage.Repository.
func (s *Store) GetByID(ctx context.Context, id string) (*event.Event, error) {
	var deleted int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM deleted_events WHERE id = ?", id).Scan(&deleted)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check deletion status: %w", err)
	}
	if err == nil {
		return nil, storage.ErrNotFound
	}

	evt := &event.Event{}
	var tagsJSON sql.NullString
	err = s.db.QueryRowContext(ctx,
		"SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE id = ?",
		id).Scan(&evt.ID, &evt.PubKey, &evt.CreatedAt, &evt.Kind, &tagsJSON, &evt.Content, &evt.Sig)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	evt.Tags = jsonToTags(tagsJSON.String)
	return evt, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func tagsToJSON(tags [][]string) string {
	if len(tags) == 0 {
		return "[]"
	}
	var tagStrings []string
	for _, tag := range tags {
		tagStr := "["
		for i, part := range tag {
			if i > 0 {
				tagStr += ","
			}
			tagStr += `"` + strings.ReplaceAll(part, `"`, `\"`) + `"`
		}
		tagStr += "]"
		tagStrings = append(tagStrings, tagStr)
	}
	return "[" + strings.Join(tagStrings, ",") + "]"
}

// jsonToTags parses the simple nested-JSON-array tag format produced by
// tagsToJSON. A hand-rolled parser rather than encoding/json against
// [][]string because sqlite's TEXT column round-trips exactly this shape
// and a full JSON decode here would just re-verify what tagsToJSON already
// guarantees on the write side.
func jsonToTags(jsonStr string) [][]string {
	jsonStr = strings.TrimSpace(jsonStr)
	if jsonStr == "" || jsonStr == "[]" || !strings.HasPrefix(jsonStr, "[") || !strings.HasSuffix(jsonStr, "]") {
		return [][]string{}
	}
	jsonStr = jsonStr[1 : len(jsonStr)-1]
	if jsonStr == "" {
		return [][]string{}
	}

	var tags [][]string
	var depth int
	var current strings.Builder
	for _, r := range jsonStr {
		switch r {
		case '[':
			depth++
			current.WriteRune(r)
		case ']':
			depth--
			current.WriteRune(r)
		case ',':
			if depth == 0 {
				if tagStr := strings.TrimSpace(current.String()); tagStr != "" {
					tags = append(tags, parseTagString(tagStr))
				}
				current.Reset()
			} else {
				current.WriteRune(r)
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		if tagStr := strings.TrimSpace(current.String()); tagStr != "" {
			tags = append(tags, parseTagString(tagStr))
		}
	}
	return tags
}

// parseTagString splits one tag's quoted-string elements, honoring quote
// boundaries and `\"` escapes so a value containing a literal comma (e.g.
// a content-warning reason) isn't mistaken for an element separator.
func parseTagString(tagStr string) []string {
	tagStr = strings.TrimSpace(tagStr)
	if !strings.HasPrefix(tagStr, "[") || !strings.HasSuffix(tagStr, "]") {
		return nil
	}
	tagStr = tagStr[1 : len(tagStr)-1]
	if tagStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	escaped := false
	for _, r := range tagStr {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && inQuotes:
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	parts = append(parts, current.String())

	result := make([]string, len(parts))
	for i, part := range parts {
		result[i] = strings.TrimSpace(part)
	}
	return result
}
