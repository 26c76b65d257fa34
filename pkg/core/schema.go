package core

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/liliang-cn/objstore/internal/codec"
)

// tableName returns the object table backing a type.
func tableName(typeName string) string {
	return "objects_" + typeName
}

// typeDefFor resolves a registered type. Callers hold the store lock.
func (s *Store) typeDefFor(name string) (*typeDef, error) {
	def, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return def, nil
}

// TypeID returns the integer id assigned to a registered type.
func (s *Store) TypeID(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := s.typeDefFor(name)
	if err != nil {
		return 0, wrapError("type_id", err)
	}
	return def.id, nil
}

// TypeAttrs returns the registered attribute map of a type, including the
// implicit id/parent_type/parent_id/pickle attributes.
func (s *Store) TypeAttrs(name string) (map[string]Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := s.typeDefFor(name)
	if err != nil {
		return nil, wrapError("type_attrs", err)
	}
	return maps.Clone(def.attrs), nil
}

// typeHasKeywordAttr reports whether any attribute of the type feeds the
// keyword index. Callers hold the store lock.
func (s *Store) typeHasKeywordAttr(name string) bool {
	def, ok := s.types[name]
	if !ok {
		return false
	}
	for _, a := range def.attrs {
		if a.Flags&AttrKeywords != 0 {
			return true
		}
	}
	return false
}

// checkIndexes validates multi-column index specs against an attribute map.
func checkIndexes(indexes [][]string, attrs map[string]Attr) error {
	for _, cols := range indexes {
		if len(cols) < 2 {
			return fmt.Errorf("%w: multi-column index needs at least two columns, got %v", ErrSchema, cols)
		}
		for _, col := range cols {
			a, ok := attrs[col]
			if !ok {
				return fmt.Errorf("%w: index (%s) names unknown attribute %q",
					ErrSchema, strings.Join(cols, ","), col)
			}
			if a.Flags == AttrSimple {
				return fmt.Errorf("%w: index (%s) names simple attribute %q",
					ErrSchema, strings.Join(cols, ","), col)
			}
		}
	}
	return nil
}

// createMultiIndexes builds the requested multi-column indexes on a table.
func (s *Store) createMultiIndexes(ctx context.Context, table string, indexes [][]string) error {
	for _, cols := range indexes {
		stmt := fmt.Sprintf("CREATE INDEX %s_%s_idx ON %s (%s)",
			table, strings.Join(cols, "_"), table, strings.Join(cols, ","))
		if _, err := s.exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// sortedAttrNames returns attribute names in a stable order with the id
// column first, so generated DDL is deterministic.
func sortedAttrNames(attrs map[string]Attr) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "id" {
			return true
		}
		if names[j] == "id" {
			return false
		}
		return names[i] < names[j]
	})
	return names
}

// indexKey gives set semantics to a multi-column index spec.
func indexKey(cols []string) string { return strings.Join(cols, ",") }

// RegisterType registers an object type or merges new attributes into an
// existing one. Attribute names must not collide with reserved query keys or
// the implicit columns.
//
// Re-registering with only new simple attributes or new multi-column indexes
// updates metadata in place. Any other change rebuilds the object table:
// materialized columns that existed before are copied by name; values whose
// storage location moves between blob and column are not migrated (the
// column-to-blob direction loses them, the blob-to-column direction leaves
// the column empty until the next write).
func (s *Store) RegisterType(ctx context.Context, name string, attrs map[string]Attr, indexes ...[]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("register", ErrStoreClosed)
	}
	if err := s.registerLocked(ctx, name, attrs, indexes); err != nil {
		return wrapError("register", err)
	}
	return nil
}

func (s *Store) registerLocked(ctx context.Context, name string, attrs map[string]Attr, indexes [][]string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: bad type name %q", ErrSchema, name)
	}
	if len(attrs) == 0 && len(indexes) == 0 {
		return fmt.Errorf("%w: must specify attributes or indexes for type %q", ErrSchema, name)
	}
	for attrName, a := range attrs {
		if !identPattern.MatchString(attrName) {
			return fmt.Errorf("%w: bad attribute name %q", ErrSchema, attrName)
		}
		if _, ok := reservedAttributes[attrName]; ok {
			return fmt.Errorf("%w: attribute name %q is reserved", ErrSchema, attrName)
		}
		if _, ok := implicitAttributes[attrName]; ok {
			return fmt.Errorf("%w: attribute name %q collides with an implicit column", ErrSchema, attrName)
		}
		if !a.Type.valid() {
			return fmt.Errorf("%w: attribute %q has unsupported type %q", ErrSchema, attrName, a.Type)
		}
	}

	table := tableName(name)
	cur, exists := s.types[name]

	var (
		curID      int64
		newAttrs   map[string]Attr
		newIndexes [][]string
	)

	if exists {
		// Compare given attributes with the registered ones; merge
		// semantics, attributes are never removed.
		curID = cur.id
		newAttrs = make(map[string]Attr)
		rebuild := false
		for attrName, a := range attrs {
			if old, ok := cur.attrs[attrName]; !ok || old != a {
				newAttrs[attrName] = a
				if a.Flags != 0 {
					// A new or changed materialized column needs a
					// table rebuild.
					rebuild = true
				}
			}
		}

		known := make(map[string]bool)
		for _, cols := range cur.indexes {
			known[indexKey(cols)] = true
		}
		for _, cols := range indexes {
			if !known[indexKey(cols)] {
				newIndexes = append(newIndexes, cols)
			}
		}
		if len(newAttrs) == 0 && len(newIndexes) == 0 {
			// Idempotent re-registration.
			return nil
		}

		merged := maps.Clone(cur.attrs)
		maps.Copy(merged, newAttrs)
		attrs = merged
		indexes = append(append([][]string{}, cur.indexes...), newIndexes...)
		if err := checkIndexes(indexes, attrs); err != nil {
			return err
		}

		if !rebuild {
			// Only simple attributes or new indexes: metadata update and
			// index creation, no table rewrite.
			if len(newAttrs) > 0 {
				blob, err := codec.Default.Marshal(attrs)
				if err != nil {
					return err
				}
				if _, err := s.exec(ctx, "UPDATE types SET attrs_blob=? WHERE id=?", blob, curID); err != nil {
					return err
				}
			}
			if len(newIndexes) > 0 {
				if err := s.createMultiIndexes(ctx, table, newIndexes); err != nil {
					return err
				}
				blob, err := codec.Default.Marshal(indexes)
				if err != nil {
					return err
				}
				if _, err := s.exec(ctx, "UPDATE types SET index_blob=? WHERE id=?", blob, curID); err != nil {
					return err
				}
			}
			if err := s.commitLocked(); err != nil {
				return err
			}
			s.logger.Info("type updated in place", "type", name, "new_attrs", len(newAttrs), "new_indexes", len(newIndexes))
			return s.loadTypes(ctx)
		}
	} else {
		merged := maps.Clone(attrs)
		maps.Copy(merged, implicitAttributes)
		attrs = merged
		if err := checkIndexes(indexes, attrs); err != nil {
			return err
		}
	}

	// Build the new table under a temporary name. The uuid suffix keeps it
	// clear of leftovers from a rebuild that crashed before the rename.
	tmp := fmt.Sprintf("%s_tmp_%s", table, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	var cols []string
	for _, attrName := range sortedAttrNames(attrs) {
		a := attrs[attrName]
		if a.Flags == AttrSimple {
			continue
		}
		col := attrName + " " + a.Type.sqlType()
		if attrName == "id" {
			col += " PRIMARY KEY AUTOINCREMENT"
		}
		cols = append(cols, col)
	}
	if _, err := s.exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", tmp, strings.Join(cols, ", "))); err != nil {
		return err
	}

	attrsBlob, err := codec.Default.Marshal(attrs)
	if err != nil {
		return err
	}
	indexBlob, err := codec.Default.Marshal(indexes)
	if err != nil {
		return err
	}
	var idArg any
	if exists {
		idArg = curID
	}
	if _, err := s.exec(ctx, "INSERT OR REPLACE INTO types VALUES(?, ?, ?, ?)", idArg, name, attrsBlob, indexBlob); err != nil {
		return err
	}
	if err := s.loadTypes(ctx); err != nil {
		return err
	}

	if exists {
		// Copy every column that was materialized under the old schema.
		// Attributes moving between blob and column are not migrated.
		var copyCols []string
		for _, attrName := range sortedAttrNames(cur.attrs) {
			if cur.attrs[attrName].Flags != 0 {
				copyCols = append(copyCols, attrName)
			}
		}
		colList := strings.Join(copyCols, ",")
		if _, err := s.exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", tmp, colList, colList, table)); err != nil {
			return err
		}
		if _, err := s.exec(ctx, "DROP TABLE "+table); err != nil {
			return err
		}
		s.logger.Info("type table rebuilt", "type", name, "new_attrs", len(newAttrs))
	}

	if _, err := s.exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp, table)); err != nil {
		return err
	}

	// Rows removed from a keyword-bearing table must shrink the corpus
	// denominator used in relevance weighting.
	if s.typeHasKeywordAttr(name) {
		stmt := fmt.Sprintf("CREATE TRIGGER delete_object_%s DELETE ON %s BEGIN "+
			"UPDATE meta SET value=value-1 WHERE attr='keywords_objectcount'; END", name, table)
		if _, err := s.exec(ctx, stmt); err != nil {
			return err
		}
	}

	// Index for locating all objects under a given parent.
	if _, err := s.exec(ctx, fmt.Sprintf("CREATE INDEX %s_parent_idx ON %s (parent_id, parent_type)", table, table)); err != nil {
		return err
	}

	for _, attrName := range sortedAttrNames(attrs) {
		if attrs[attrName].Flags&AttrIndexed != 0 {
			if _, err := s.exec(ctx, fmt.Sprintf("CREATE INDEX %s_%s_idx ON %s (%s)", table, attrName, table, attrName)); err != nil {
				return err
			}
		}
	}
	if err := s.createMultiIndexes(ctx, table, indexes); err != nil {
		return err
	}
	return s.commitLocked()
}
