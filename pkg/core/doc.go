// Package core provides an embedded object store layered over SQLite.
//
// Objects belong to registered types whose attributes are declared with a
// semantic type and capability flags. Flagged attributes materialize as
// queryable table columns; everything else is packed into one serialized
// blob per row. Types can be re-registered to evolve their schema, with an
// in-place table migration when the column set changes.
//
// # Key Components
//
//   - Store: the entry point for registration, CRUD, querying, and search.
//   - Query: a cross-type attribute query builder with comparator
//     expressions (QExpr), parent filters, projection, and distinct.
//   - Keyword index: attributes flagged AttrKeywords feed an inverted index
//     with quantized relevance buckets; Search answers multi-term queries
//     with a ranked, adaptive, intersection-based retrieval algorithm.
//
// All operations run synchronously on one connection. Writes accumulate in
// a long-lived transaction and become durable on Commit (or Close), so
// callers batch writes by committing at their own cadence.
package core
