package core

import (
	"context"
	"fmt"
	"maps"
)

// TypeInfo describes one registered type for introspection.
type TypeInfo struct {
	Attrs   map[string]Attr
	Indexes [][]string
}

// Info is a snapshot of store statistics.
type Info struct {
	// Counts holds the number of objects per type.
	Counts map[string]int64
	// Types holds each registered type's attribute map and indexes.
	Types map[string]TypeInfo
	// Total is the number of objects carrying keyword-indexed attributes.
	Total int64
	// WordCount is the number of words in the keyword index.
	WordCount int64
}

// Info returns per-type counts, schema details, and keyword index totals.
func (s *Store) Info(ctx context.Context) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wrapError("info", ErrStoreClosed)
	}

	info := &Info{
		Counts: make(map[string]int64),
		Types:  make(map[string]TypeInfo),
	}
	for name, def := range s.types {
		info.Types[name] = TypeInfo{
			Attrs:   maps.Clone(def.attrs),
			Indexes: append([][]string{}, def.indexes...),
		}
		row, err := s.queryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName(name)))
		if err != nil {
			return nil, wrapError("info", err)
		}
		var count int64
		if err := row.Scan(&count); err != nil {
			return nil, wrapError("info", err)
		}
		info.Counts[name] = count
	}

	total, err := s.keywordObjectCount(ctx)
	if err != nil {
		return nil, wrapError("info", err)
	}
	info.Total = total

	row, err := s.queryRow(ctx, "SELECT COUNT(*) FROM words")
	if err != nil {
		return nil, wrapError("info", err)
	}
	if err := row.Scan(&info.WordCount); err != nil {
		return nil, wrapError("info", err)
	}
	return info, nil
}

// Vacuum drops words whose live-posting count has reached zero and compacts
// the database file. Zero-count words are harmless, so this can run as an
// occasional maintenance pass rather than after every delete.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("vacuum", ErrStoreClosed)
	}
	if _, err := s.exec(ctx, "DELETE FROM words WHERE count=0"); err != nil {
		return wrapError("vacuum", err)
	}
	// VACUUM cannot run inside a transaction.
	if err := s.commitLocked(); err != nil {
		return wrapError("vacuum", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return wrapError("vacuum", err)
	}
	s.logger.Info("vacuum finished", "path", s.config.Path)
	return nil
}
