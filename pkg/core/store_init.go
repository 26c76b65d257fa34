package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/liliang-cn/objstore/internal/codec"
)

// schemaVersion is written into new databases; databases older than
// schemaVersionCompatible refuse to open.
const (
	schemaVersion           = 1
	schemaVersionCompatible = 1
)

// bootstrapStatements create the fixed metadata tables: singleton meta rows,
// the type registry, and the keyword inverted index. The delete_words_map
// trigger keeps each word's live-posting count in step with posting removal.
var bootstrapStatements = []string{
	`CREATE TABLE meta (
		attr  TEXT UNIQUE,
		value TEXT
	)`,
	`INSERT INTO meta VALUES('keywords_objectcount', 0)`,
	fmt.Sprintf(`INSERT INTO meta VALUES('version', %d)`, schemaVersion),
	`CREATE TABLE types (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT UNIQUE,
		attrs_blob BLOB,
		index_blob BLOB
	)`,
	`CREATE TABLE words (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		word  TEXT,
		count INTEGER
	)`,
	`CREATE UNIQUE INDEX words_idx ON words (word)`,
	`CREATE TABLE words_map (
		rank        INTEGER,
		word_id     INTEGER,
		object_type INTEGER,
		object_id   INTEGER,
		frequency   FLOAT
	)`,
	`CREATE INDEX words_map_word_idx ON words_map (word_id, rank, object_type, object_id)`,
	`CREATE INDEX words_map_object_idx ON words_map (object_id, object_type)`,
	`CREATE TRIGGER delete_words_map DELETE ON words_map
	BEGIN
		UPDATE words SET count=count-1 WHERE id=old.word_id;
	END`,
}

// Init opens the database, bootstraps the metadata schema on first use, and
// reloads all persisted type definitions. It must be called before any other
// operation.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	// journal_mode=WAL: Better concurrency
	// synchronous=NORMAL: Good balance of safety and speed
	// busy_timeout=5000: Wait up to 5s for lock instead of failing immediately
	// cache_size=-2000: Use 2MB of memory for cache (negative value = kb)
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=cache_size(-2000)", s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	// The store is single-writer and holds an open transaction between
	// commits, so everything goes through one connection.
	db.SetMaxOpenConns(1)
	s.db = db

	exists, err := s.tableExists(ctx, "meta")
	if err != nil {
		return wrapError("init", err)
	}
	if !exists {
		for _, stmt := range bootstrapStatements {
			if _, err := s.exec(ctx, stmt); err != nil {
				return wrapError("init", fmt.Errorf("failed to bootstrap schema: %w", err))
			}
		}
		if err := s.commitLocked(); err != nil {
			return wrapError("init", err)
		}
	}

	row, err := s.queryRow(ctx, "SELECT value FROM meta WHERE attr='version'")
	if err != nil {
		return wrapError("init", err)
	}
	var version string
	if err := row.Scan(&version); err != nil {
		return wrapError("init", fmt.Errorf("failed to read schema version: %w", err))
	}
	if v, err := strconv.Atoi(version); err != nil || v < schemaVersionCompatible {
		return wrapError("init", fmt.Errorf("%w: database %q has version %s, need at least %d",
			ErrIncompatibleSchema, s.config.Path, version, schemaVersionCompatible))
	}

	if err := s.loadTypes(ctx); err != nil {
		return wrapError("init", err)
	}

	s.logger.Info("database initialized", "path", s.config.Path, "types", len(s.types))
	return nil
}

// tableExists checks the SQLite catalog for a table.
func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	row, err := s.queryRow(ctx,
		"SELECT name FROM sqlite_master WHERE name=? AND type='table'", name)
	if err != nil {
		return false, err
	}
	var found string
	if err := row.Scan(&found); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// loadTypes replaces the in-memory registry with the persisted type
// definitions. Called at startup and after every schema change.
func (s *Store) loadTypes(ctx context.Context) error {
	rows, err := s.queryRows(ctx, "SELECT id, name, attrs_blob, index_blob FROM types")
	if err != nil {
		return err
	}
	defer rows.Close()

	types := make(map[string]*typeDef)
	for rows.Next() {
		var (
			id                   int64
			name                 string
			attrsBlob, indexBlob []byte
		)
		if err := rows.Scan(&id, &name, &attrsBlob, &indexBlob); err != nil {
			return err
		}

		def := &typeDef{id: id}
		if err := codec.Default.Unmarshal(attrsBlob, &def.attrs); err != nil {
			return fmt.Errorf("failed to decode attributes for type %q: %w", name, err)
		}
		if err := codec.Default.Unmarshal(indexBlob, &def.indexes); err != nil {
			return fmt.Errorf("failed to decode indexes for type %q: %w", name, err)
		}
		types[name] = def
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.types = types
	return nil
}
