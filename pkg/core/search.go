package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/liliang-cn/objstore/internal/tokenize"
)

// searchTerm holds the retrieval state of one query word across passes: a
// paging offset and has-more flag per rank bucket, the accumulated weighted
// partial scores, and the set of object ids observed so far.
type searchTerm struct {
	wordID int64
	word   string
	count  int64   // document frequency
	weight float64 // idf plus positional weight

	results map[Ref]float64
	seen    *roaring64.Bitmap
	offset  [numRanks]int64
	more    [numRanks]bool
	fetched int64
	done    bool
}

func (t *searchTerm) hasMore() bool {
	for rank := 0; rank < numRanks; rank++ {
		if t.more[rank] {
			return true
		}
	}
	return false
}

func resultsIntersect(a, b *searchTerm) bool {
	if len(b.results) < len(a.results) {
		a, b = b, a
	}
	for ref := range a.results {
		if _, ok := b.results[ref]; ok {
			return true
		}
	}
	return false
}

// intersectTerms returns the candidates present in every term's partial
// results.
func intersectTerms(terms []*searchTerm) []Ref {
	var out []Ref
	for ref := range terms[0].results {
		all := true
		for _, t := range terms[1:] {
			if _, ok := t.results[ref]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, ref)
		}
	}
	return out
}

// bitmapList renders an id bitmap as an inline SQL list. The values are
// machine-generated integers, so inlining sidesteps the bound-parameter cap
// for large constraint sets.
func bitmapList(bm *roaring64.Bitmap) string {
	var sb strings.Builder
	it := bm.Iterator()
	for it.HasNext() {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(it.Next(), 10))
	}
	return sb.String()
}

// keywordObjectCount reads the corpus denominator for relevance weighting.
func (s *Store) keywordObjectCount(ctx context.Context) (int64, error) {
	row, err := s.queryRow(ctx, "SELECT value FROM meta WHERE attr='keywords_objectcount'")
	if err != nil {
		return 0, err
	}
	var value string
	if err := row.Scan(&value); err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad keywords_objectcount %q: %w", value, err)
	}
	return n, nil
}

// Search answers a multi-term keyword query with AND semantics, returning
// matching objects ordered by descending relevance. typeName restricts the
// search to one object type; empty searches all types. limit <= 0 returns
// every match.
//
// The searcher pages through rank buckets from most to least relevant,
// intersecting per-term candidate sets, and stops once the accumulated
// result set comfortably exceeds the limit or the postings are exhausted.
// Completeness is traded for bounded cost: the adjacent-pair short circuit
// below can under-return in pathological queries of three or more terms.
func (s *Store) Search(ctx context.Context, phrase string, limit int, typeName string) ([]Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wrapError("search", ErrStoreClosed)
	}
	refs, err := s.searchLocked(ctx, phrase, limit, typeName)
	if err != nil {
		return nil, wrapError("search", err)
	}
	return refs, nil
}

func (s *Store) searchLocked(ctx context.Context, phrase string, limit int, typeName string) ([]Ref, error) {
	objectCount, err := s.keywordObjectCount(ctx)
	if err != nil {
		return nil, err
	}

	var typeID int64
	if typeName != "" {
		def, err := s.typeDefFor(typeName)
		if err != nil {
			return nil, err
		}
		typeID = def.id
	}

	words := tokenize.Words(phrase)
	seen := make(map[string]bool, len(words))
	distinct := words[:0]
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			distinct = append(distinct, w)
		}
	}
	if len(distinct) == 0 {
		return nil, nil
	}

	// Resolve words ordered rarest first. Every term must exist with live
	// postings, otherwise the intersection is provably empty.
	args := make([]any, len(distinct))
	for i, w := range distinct {
		args[i] = w
	}
	rows, err := s.queryRows(ctx, fmt.Sprintf(
		"SELECT id, word, count FROM words WHERE word IN (%s) ORDER BY count",
		placeholders(len(distinct))), args...)
	if err != nil {
		return nil, err
	}
	var terms []*searchTerm
	for rows.Next() {
		t := &searchTerm{
			results: make(map[Ref]float64),
			seen:    roaring64.New(),
		}
		if err := rows.Scan(&t.wordID, &t.word, &t.count); err != nil {
			rows.Close()
			return nil, err
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(terms) < len(distinct) {
		return nil, nil
	}
	for i, t := range terms {
		if t.count == 0 {
			return nil, nil
		}
		// Weight selective terms highest: idf plus a positional bonus for
		// terms earlier in the rarity order.
		t.weight = math.Log(float64(objectCount)/float64(t.count)+1) + float64(1+len(terms)-i)
		for rank := range t.more {
			t.more[rank] = true
		}
	}

	typeNames := make(map[int64]string, len(s.types))
	for name, def := range s.types {
		typeNames[def.id] = name
	}

	effLimit := limit
	if effLimit <= 0 {
		effLimit = int(objectCount)
	}
	pageSize := min(effLimit*3, 200)
	if pageSize < 1 {
		pageSize = 1
	}

	allResults := make(map[Ref]float64)
	// Once a term has been fully consumed, its observed ids bound the
	// candidate space of every other term.
	var constraint *roaring64.Bitmap

	finished := false
	for !finished {
		for rank := numRanks - 1; rank >= 0; rank-- {
			for _, t := range terms {
				if !t.more[rank] || t.done {
					continue
				}

				q := "SELECT object_type, object_id, frequency FROM words_map WHERE word_id=? AND rank=?"
				qargs := []any{t.wordID, rank}
				if typeID != 0 {
					q += " AND object_type=?"
					qargs = append(qargs, typeID)
				}
				if constraint != nil {
					// Push the intersection into the engine: only rows that
					// can still survive the AND are worth fetching.
					q += " AND object_id IN (" + bitmapList(constraint) + ")"
				}
				q += " LIMIT ? OFFSET ?"
				qargs = append(qargs, pageSize, t.offset[rank])

				prows, err := s.queryRows(ctx, q, qargs...)
				if err != nil {
					return nil, err
				}
				fetched := 0
				for prows.Next() {
					var (
						objType, objID int64
						freq           float64
					)
					if err := prows.Scan(&objType, &objID, &freq); err != nil {
						prows.Close()
						return nil, err
					}
					fetched++
					name, ok := typeNames[objType]
					if !ok {
						continue
					}
					t.results[Ref{Type: name, ID: objID}] = freq * t.weight
					t.seen.Add(uint64(objID))
				}
				if err := prows.Err(); err != nil {
					prows.Close()
					return nil, err
				}
				prows.Close()

				t.more[rank] = fetched == pageSize
				t.fetched += int64(fetched)

				if t.fetched >= t.count ||
					(constraint != nil && uint64(fetched) == constraint.GetCardinality()) {
					// All postings for this term are in hand (or the whole
					// constraint set matched); its id set now bounds the rest.
					t.done = true
					if constraint == nil {
						constraint = t.seen.Clone()
					} else {
						constraint.And(t.seen)
					}
				}
			}

			// Fold candidates that survive every term into the final
			// accumulator.
			for _, ref := range intersectTerms(terms) {
				sum := 0.0
				for _, t := range terms {
					sum += t.results[ref]
				}
				allResults[ref] = sum
			}

			if effLimit > 0 && len(allResults) > effLimit*2 {
				finished = true
				break
			}
		}
		if finished {
			break
		}

		finished = true
		for i, t := range terms {
			if i > 0 {
				prev := terms[i-1]
				if !resultsIntersect(prev, t) && !prev.hasMore() && !t.hasMore() {
					// Two adjacent terms with disjoint results and nothing
					// left to page: no intersection can appear anymore.
					// Heuristic only; see the package note on completeness.
					finished = true
					break
				}
			}
			for rank := numRanks - 1; rank >= 0; rank-- {
				if t.more[rank] && !t.done {
					t.offset[rank] += int64(pageSize)
					finished = false
				}
			}
		}

		// Widen the net before the next pass.
		pageSize *= 10
	}

	refs := make([]Ref, 0, len(allResults))
	for ref := range allResults {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		si, sj := allResults[refs[i]], allResults[refs[j]]
		if si != sj {
			return si > sj
		}
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].ID < refs[j].ID
	})
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	s.logger.Debug("keyword search finished", "phrase", phrase, "terms", len(terms), "results", len(refs))
	return refs, nil
}
