package core

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
)

// computedIDBase folds a (type id, object id) pair into one synthetic id so
// keyword relevance order survives per-type query execution.
const computedIDBase = 10000000

// ParentFilter constrains an object's parent: a type name plus either an id
// or a *QExpr over parent ids. Several filters form a disjunction.
type ParentFilter struct {
	Type string
	ID   any
}

// Query describes one read against the store. Zero values leave a dimension
// unconstrained.
type Query struct {
	// Object is a direct (type, id) lookup.
	Object *Ref
	// Keywords runs a free-text search whose relevance order carries
	// through to the final results.
	Keywords string
	// Type restricts the query to one object type; empty searches every
	// registered type.
	Type string
	// Parents matches objects whose parent satisfies any of the filters.
	Parents []ParentFilter
	// Limit caps the rows contributed per processed type; 0 is unlimited.
	Limit int
	// Attrs projects only the named attributes; simple attributes cannot
	// be projected.
	Attrs []string
	// Distinct selects distinct rows; requires Attrs.
	Distinct bool
	// Where holds attribute constraints: plain values compare for
	// equality, *QExpr values supply an explicit comparator.
	Where map[string]any
}

// Query returns the objects matching all dimensions of q. Types lacking one
// of the constrained attributes are skipped silently, unless Type names one
// explicitly, in which case an unknown attribute is an error.
func (s *Store) Query(ctx context.Context, q *Query) ([]*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wrapError("query", ErrStoreClosed)
	}
	results, err := s.queryLocked(ctx, q)
	if err != nil {
		return nil, wrapError("query", err)
	}
	return results, nil
}

func (s *Store) queryLocked(ctx context.Context, q *Query) ([]*Object, error) {
	where := maps.Clone(q.Where)
	if where == nil {
		where = make(map[string]any)
	}
	qType := q.Type
	if q.Object != nil {
		qType = q.Object.Type
		where["id"] = q.Object.ID
	}

	kwActive := q.Keywords != ""
	var (
		kwRefs   []Ref
		kwByType map[string][]int64
	)
	if kwActive {
		// With further constraints in play the keyword search must run
		// unbounded, otherwise intersecting matches could be cut off.
		kwLimit := q.Limit
		if len(where) > 0 || len(q.Parents) > 0 || len(q.Attrs) > 0 || q.Distinct {
			kwLimit = 0
		}
		var err error
		kwRefs, err = s.searchLocked(ctx, q.Keywords, kwLimit, qType)
		if err != nil {
			return nil, err
		}
		if len(kwRefs) == 0 {
			return nil, nil
		}
		kwByType = make(map[string][]int64)
		for _, r := range kwRefs {
			kwByType[r.Type] = append(kwByType[r.Type], r.ID)
		}
	}

	explicit := qType != ""
	var typeList []string
	if explicit {
		if _, ok := s.types[qType]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, qType)
		}
		typeList = []string{qType}
	} else {
		for name := range s.types {
			typeList = append(typeList, name)
		}
		sort.Strings(typeList)
	}

	type parentCond struct {
		typeID int64
		expr   *QExpr
	}
	var parents []parentCond
	for _, p := range q.Parents {
		def, err := s.typeDefFor(p.Type)
		if err != nil {
			return nil, err
		}
		expr, err := qexprFor(p.ID)
		if err != nil {
			return nil, err
		}
		parents = append(parents, parentCond{typeID: def.id, expr: expr})
	}

	if q.Distinct && len(q.Attrs) == 0 {
		return nil, fmt.Errorf("%w: distinct requires an explicit attrs projection", ErrValidation)
	}

	whereKeys := make([]string, 0, len(where))
	for k := range where {
		whereKeys = append(whereKeys, k)
	}
	sort.Strings(whereKeys)

	var (
		results     []*Object
		computedIDs []int64
	)

	for _, typeName := range typeList {
		def := s.types[typeName]
		if kwActive {
			if _, hit := kwByType[typeName]; !hit {
				continue
			}
		}

		materialized := make(map[string]bool)
		var allColumns []string
		for _, name := range sortedAttrNames(def.attrs) {
			if def.attrs[name].Flags != AttrSimple {
				materialized[name] = true
				allColumns = append(allColumns, name)
			}
		}

		columns := allColumns
		if len(q.Attrs) > 0 {
			for _, name := range q.Attrs {
				a, ok := def.attrs[name]
				if !ok {
					return nil, fmt.Errorf("%w: requested attribute %q is not available for type %q",
						ErrUnknownAttribute, name, typeName)
				}
				if a.Flags == AttrSimple {
					return nil, fmt.Errorf("%w: simple attribute %q cannot be projected", ErrValidation, name)
				}
			}
			columns = q.Attrs
		}

		// A type missing one of the constrained attributes cannot match
		// this AND query.
		skip := false
		for _, k := range whereKeys {
			if !materialized[k] {
				if explicit {
					return nil, fmt.Errorf("%w: %q is not a queryable attribute of type %q",
						ErrUnknownAttribute, k, typeName)
				}
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		selectExprs := []string{fmt.Sprintf("'%s'", typeName)}
		if kwActive {
			selectExprs = append(selectExprs, fmt.Sprintf("%d+id AS computed_id", def.id*computedIDBase))
		}
		selectExprs = append(selectExprs, columns...)

		var (
			conds []string
			qvals []any
		)
		if kwActive {
			ids := kwByType[typeName]
			list := make([]string, len(ids))
			for i, id := range ids {
				list[i] = strconv.FormatInt(id, 10)
			}
			conds = append(conds, fmt.Sprintf("id IN (%s)", strings.Join(list, ",")))
		}
		if len(parents) > 0 {
			ors := make([]string, len(parents))
			for i, p := range parents {
				frag, vals := p.expr.sql("parent_id")
				ors[i] = "(parent_type=? AND " + frag + ")"
				qvals = append(qvals, p.typeID)
				qvals = append(qvals, vals...)
			}
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
		for _, k := range whereKeys {
			attr := def.attrs[k]
			expr, err := qexprFor(where[k])
			if err != nil {
				return nil, err
			}

			col := k
			switch expr.op {
			case "range", "in", "not in":
				// Sequence operands pass through uncoerced.
			default:
				coerced, err := coerceQueryOperand(k, expr.operand, attr.Type)
				if err != nil {
					return nil, err
				}
				if str, ok := coerced.(string); ok && attr.Flags&AttrIgnoreCase != 0 {
					coerced = strings.ToLower(str)
					if attr.Flags&AttrIndexed == 0 {
						// Indexed ignore-case columns are stored
						// lower-cased already; folding the column here
						// would defeat the index.
						col = "lower(" + k + ")"
					}
				}
				expr.operand = coerced
			}

			frag, vals := expr.sql(col)
			conds = append(conds, frag)
			qvals = append(qvals, vals...)
		}

		stmt := "SELECT "
		if q.Distinct {
			stmt += "DISTINCT "
		}
		stmt += strings.Join(selectExprs, ",") + " FROM " + tableName(typeName)
		if len(conds) > 0 {
			stmt += " WHERE " + strings.Join(conds, " AND ")
		}
		if q.Limit > 0 {
			stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
		}

		rows, err := s.queryRows(ctx, stmt, qvals...)
		if err != nil {
			return nil, err
		}
		fetched := 0
		for rows.Next() {
			ncols := len(columns) + 1
			if kwActive {
				ncols++
			}
			vals := make([]any, ncols)
			ptrs := make([]any, ncols)
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, err
			}
			fetched++

			vals = vals[1:] // drop the type literal
			var computed int64
			if kwActive {
				computed, _ = vals[0].(int64)
				vals = vals[1:]
			}

			obj, err := materializeObject(typeName, def, columns, vals)
			if err != nil {
				rows.Close()
				return nil, err
			}
			results = append(results, obj)
			computedIDs = append(computedIDs, computed)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if q.Limit > 0 && fetched >= q.Limit {
			// This type filled the quota on its own; skip the rest.
			break
		}
	}

	if kwActive {
		// Per-type execution destroyed the relevance order; restore it via
		// the synthetic composite id.
		order := make(map[int64]int, len(kwRefs))
		for pos, r := range kwRefs {
			order[s.types[r.Type].id*computedIDBase+r.ID] = pos
		}
		sort.SliceStable(results, func(i, j int) bool {
			return order[computedIDs[i]] < order[computedIDs[j]]
		})
	}
	return results, nil
}

// materializeObject turns one scanned row into an Object: typed column
// values first, then the blob's simple attributes, with shadow keys
// restoring the true case of lower-cased indexed columns.
func materializeObject(typeName string, def *typeDef, columns []string, vals []any) (*Object, error) {
	obj := &Object{Type: typeName, Attrs: make(map[string]any, len(columns))}

	var blob []byte
	for i, name := range columns {
		v := vals[i]
		if v == nil {
			continue
		}
		if name == "pickle" {
			blob, _ = v.([]byte)
			continue
		}
		switch def.attrs[name].Type {
		case TypeInt:
			if n, ok := v.(int64); ok {
				obj.Attrs[name] = n
			}
		case TypeFloat:
			switch x := v.(type) {
			case float64:
				obj.Attrs[name] = x
			case int64:
				obj.Attrs[name] = float64(x)
			}
		case TypeText:
			switch x := v.(type) {
			case string:
				obj.Attrs[name] = x
			case []byte:
				obj.Attrs[name] = string(x)
			}
		case TypeBlob:
			if b, ok := v.([]byte); ok {
				obj.Attrs[name] = append([]byte(nil), b...)
			}
		}
	}

	if id, ok := obj.Attrs["id"].(int64); ok {
		obj.ID = id
	}

	if blob != nil {
		simple, err := decodePickle(def, blob)
		if err != nil {
			return nil, err
		}
		for k, v := range simple {
			if name, isShadow := strings.CutPrefix(k, shadowPrefix); isShadow {
				obj.Attrs[name] = v
				continue
			}
			obj.Attrs[k] = v
		}
	}
	return obj, nil
}
