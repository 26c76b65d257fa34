package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/liliang-cn/objstore/internal/codec"
)

// validateAttrNames rejects attribute keys that are not registered for the
// type.
func validateAttrNames(typeName string, def *typeDef, attrs map[string]any) error {
	for name := range attrs {
		if _, ok := def.attrs[name]; !ok {
			return fmt.Errorf("%w: %q is not registered for type %q", ErrUnknownAttribute, name, typeName)
		}
	}
	return nil
}

// makeQueryFromAttrs splits an attribute map into materialized column values
// and the serialized blob remainder, then renders an INSERT or UPDATE.
//
// nil values are treated as unset and dropped, which is how simple
// attributes get removed on update. Lower-cased shadow storage for
// AttrIndexedIgnoreCase columns happens here so callers never deal with it.
func makeQueryFromAttrs(kind, typeName string, def *typeDef, attrs map[string]any) (string, []any, error) {
	for name, v := range attrs {
		if v == nil {
			delete(attrs, name)
		}
	}
	blobAttrs := maps.Clone(attrs)

	var (
		columns []string
		values  []any
	)
	for _, name := range sortedAttrNames(def.attrs) {
		a := def.attrs[name]
		if a.Flags == AttrSimple {
			continue
		}
		v, ok := attrs[name]
		if !ok {
			continue
		}
		v = normalizeValue(v)
		if str, isStr := v.(string); isStr && a.Flags&AttrIndexedIgnoreCase == AttrIndexedIgnoreCase {
			// Store the column lower-cased so indexed comparisons are
			// case-insensitive; the true-case value rides in the blob.
			blobAttrs[shadowPrefix+name] = str
			v = strings.ToLower(str)
		}
		coerced, err := coerceValue(name, v, a.Type)
		if err != nil {
			return "", nil, err
		}
		columns = append(columns, name)
		values = append(values, coerced)
		delete(blobAttrs, name)
	}

	// Updates rewrite the blob unconditionally so attribute removals stick.
	if len(blobAttrs) > 0 || kind == "update" {
		blob, err := codec.Default.Marshal(blobAttrs)
		if err != nil {
			return "", nil, err
		}
		columns = append(columns, "pickle")
		values = append(values, blob)
	}

	table := tableName(typeName)
	if kind == "add" {
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(columns, ","), placeholders(len(columns)))
		return q, values, nil
	}

	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = col + "=?"
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id=?", table, strings.Join(sets, ","))
	values = append(values, attrs["id"])
	return q, values, nil
}

// keywordParts collects the keyword-bearing attribute values of an object as
// scorer input. Non-text values are skipped.
func keywordParts(def *typeDef, attrs map[string]any) []wordPart {
	var parts []wordPart
	for _, name := range sortedAttrNames(def.attrs) {
		if def.attrs[name].Flags&AttrKeywords == 0 {
			continue
		}
		switch v := attrs[name].(type) {
		case string:
			parts = append(parts, wordPart{text: v, coeff: 1.0})
		case []byte:
			parts = append(parts, wordPart{text: string(v), coeff: 1.0})
		}
	}
	return parts
}

// Add inserts an object of the given type. parent, when non-nil, becomes the
// object's parent reference. Simple attributes set to nil are omitted.
// The returned object carries the assigned id.
func (s *Store) Add(ctx context.Context, typeName string, parent *Ref, attrs map[string]any) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wrapError("add", ErrStoreClosed)
	}
	obj, err := s.addLocked(ctx, typeName, parent, attrs)
	if err != nil {
		return nil, wrapError("add", err)
	}
	return obj, nil
}

func (s *Store) addLocked(ctx context.Context, typeName string, parent *Ref, attrs map[string]any) (*Object, error) {
	def, err := s.typeDefFor(typeName)
	if err != nil {
		return nil, err
	}
	if err := validateAttrNames(typeName, def, attrs); err != nil {
		return nil, err
	}

	attrs = maps.Clone(attrs)
	if attrs == nil {
		attrs = make(map[string]any)
	}
	if parent != nil {
		parentDef, err := s.typeDefFor(parent.Type)
		if err != nil {
			return nil, err
		}
		attrs["parent_type"] = parentDef.id
		attrs["parent_id"] = parent.ID
	}

	query, values, err := makeQueryFromAttrs("add", typeName, def, attrs)
	if err != nil {
		return nil, err
	}
	res, err := s.exec(ctx, query, values...)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	words := scoreWords(keywordParts(def, attrs))
	if err := s.addObjectKeywords(ctx, def.id, id, words); err != nil {
		return nil, err
	}
	if s.typeHasKeywordAttr(typeName) {
		if _, err := s.exec(ctx, "UPDATE meta SET value=value+1 WHERE attr='keywords_objectcount'"); err != nil {
			return nil, err
		}
	}

	attrs["id"] = id
	return &Object{Type: typeName, ID: id, Attrs: attrs}, nil
}

// Update merges the given attributes over an existing object. Simple
// attributes set to nil are removed; a non-nil parent reparents the object.
// Touching any keyword attribute retracts the object's postings and reindexes
// over the full keyword attribute set.
func (s *Store) Update(ctx context.Context, typeName string, id int64, parent *Ref, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("update", ErrStoreClosed)
	}
	return wrapError("update", s.updateLocked(ctx, typeName, id, parent, attrs))
}

func (s *Store) updateLocked(ctx context.Context, typeName string, id int64, parent *Ref, attrs map[string]any) error {
	def, err := s.typeDefFor(typeName)
	if err != nil {
		return err
	}
	if err := validateAttrNames(typeName, def, attrs); err != nil {
		return err
	}

	var keywordCols []string
	needsReindex := false
	for _, name := range sortedAttrNames(def.attrs) {
		if def.attrs[name].Flags&AttrKeywords == 0 {
			continue
		}
		keywordCols = append(keywordCols, name)
		if _, ok := attrs[name]; ok {
			needsReindex = true
		}
	}

	// Load the blob, and the full keyword column set when reindexing,
	// since scoring runs over every keyword attribute at once.
	selectCols := "pickle"
	if needsReindex {
		selectCols += "," + strings.Join(keywordCols, ",")
	}
	row, err := s.queryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id=?", selectCols, tableName(typeName)), id)
	if err != nil {
		return err
	}

	var blob []byte
	kwValues := make([]any, len(keywordCols))
	targets := []any{&blob}
	if needsReindex {
		for i := range kwValues {
			targets = append(targets, &kwValues[i])
		}
	}
	if err := row.Scan(targets...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%d", ErrNotFound, typeName, id)
		}
		return err
	}

	merged, err := decodePickle(def, blob)
	if err != nil {
		return err
	}
	maps.Copy(merged, attrs)
	if parent != nil {
		parentDef, err := s.typeDefFor(parent.Type)
		if err != nil {
			return err
		}
		merged["parent_type"] = parentDef.id
		merged["parent_id"] = parent.ID
	}
	merged["id"] = id

	query, values, err := makeQueryFromAttrs("update", typeName, def, merged)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, query, values...); err != nil {
		return err
	}

	if needsReindex {
		// Keyword attributes not part of the update keep their stored
		// values; fold them back in before rescoring.
		for i, name := range keywordCols {
			if _, ok := merged[name]; !ok {
				merged[name] = kwValues[i]
			}
		}
		if err := s.deleteObjectKeywords(ctx, def.id, []int64{id}); err != nil {
			return err
		}
		words := scoreWords(keywordParts(def, merged))
		if err := s.addObjectKeywords(ctx, def.id, id, words); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an object and, transitively, every descendant across all
// registered types. It returns the total number of objects removed.
func (s *Store) Delete(ctx context.Context, typeName string, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, wrapError("delete", ErrStoreClosed)
	}
	if _, err := s.typeDefFor(typeName); err != nil {
		return 0, wrapError("delete", err)
	}
	count, err := s.deleteMultipleLocked(ctx, map[string][]int64{typeName: {id}})
	if err != nil {
		return 0, wrapError("delete", err)
	}
	return count, nil
}

// DeleteByQuery removes every object matched by the query, cascading to
// descendants, and returns the total number removed.
func (s *Store) DeleteByQuery(ctx context.Context, q *Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, wrapError("delete_by_query", ErrStoreClosed)
	}

	spec := *q
	spec.Attrs = []string{"id"}
	results, err := s.queryLocked(ctx, &spec)
	if err != nil {
		return 0, wrapError("delete_by_query", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	byType := make(map[string][]int64)
	for _, o := range results {
		byType[o.Type] = append(byType[o.Type], o.ID)
	}
	count, err := s.deleteMultipleLocked(ctx, byType)
	if err != nil {
		return 0, wrapError("delete_by_query", err)
	}
	return count, nil
}

// deleteMultipleLocked deletes the given objects and every descendant,
// generation by generation: all direct children of the current batch are
// collected, deleted, and their own children follow on the next pass. This
// keeps cascade cost flat regardless of hierarchy depth.
func (s *Store) deleteMultipleLocked(ctx context.Context, objects map[string][]int64) (int, error) {
	count := 0
	frontier := objects
	for len(frontier) > 0 {
		if err := s.deleteObjectsKeywords(ctx, frontier); err != nil {
			return count, err
		}

		typeNames := make([]string, 0, len(frontier))
		for name := range frontier {
			typeNames = append(typeNames, name)
		}
		sort.Strings(typeNames)

		next := make(map[string][]int64)
		for _, typeName := range typeNames {
			ids := frontier[typeName]
			if len(ids) == 0 {
				continue
			}
			def, err := s.typeDefFor(typeName)
			if err != nil {
				return count, err
			}

			res, err := s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)",
				tableName(typeName), placeholders(len(ids))), int64Args(ids)...)
			if err != nil {
				return count, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return count, err
			}
			count += int(affected)

			// Collect children of this batch in every registered type.
			for childType := range s.types {
				args := append(int64Args(ids), def.id)
				rows, err := s.queryRows(ctx, fmt.Sprintf(
					"SELECT id FROM %s WHERE parent_id IN (%s) AND parent_type=?",
					tableName(childType), placeholders(len(ids))), args...)
				if err != nil {
					return count, err
				}
				for rows.Next() {
					var childID int64
					if err := rows.Scan(&childID); err != nil {
						rows.Close()
						return count, err
					}
					next[childType] = append(next[childType], childID)
				}
				if err := rows.Err(); err != nil {
					rows.Close()
					return count, err
				}
				rows.Close()
			}
		}
		frontier = next
	}
	return count, nil
}
