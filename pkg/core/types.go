package core

import "regexp"

// AttrType is the declared semantic type of an attribute. It determines the
// physical column type for materialized attributes and the coercion applied
// to values on write and query.
type AttrType string

// Supported attribute types.
const (
	TypeInt   AttrType = "int"
	TypeFloat AttrType = "float"
	TypeText  AttrType = "text"
	TypeBlob  AttrType = "blob"
)

// sqlType maps a semantic type to its physical column type.
func (t AttrType) sqlType() string {
	switch t {
	case TypeInt:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	default:
		return ""
	}
}

func (t AttrType) valid() bool { return t.sqlType() != "" }

// AttrFlags is a composable capability bitmask for an attribute.
type AttrFlags uint32

// Attribute capability flags.
const (
	// AttrSimple attributes live only in the serialized row blob.
	AttrSimple AttrFlags = 0x00
	// AttrSearchable attributes get a dedicated column.
	AttrSearchable AttrFlags = 0x01
	// AttrIndexed attributes get a single-column index.
	AttrIndexed AttrFlags = 0x02
	// AttrKeywords attributes contribute to the inverted keyword index.
	AttrKeywords AttrFlags = 0x04
	// AttrIgnoreCase attributes compare case-insensitively. Combined with
	// AttrIndexed the column is stored lower-cased and the true-case value
	// is kept in the blob under a shadow key.
	AttrIgnoreCase AttrFlags = 0x08

	AttrIndexedIgnoreCase = AttrIndexed | AttrIgnoreCase
)

// Attr declares one attribute of an object type.
type Attr struct {
	Type  AttrType  `json:"type"`
	Flags AttrFlags `json:"flags"`
}

// Ref identifies one object as a (type name, id) pair.
type Ref struct {
	Type string
	ID   int64
}

// Object is a materialized object: its identity plus the attribute values
// visible at read time.
type Object struct {
	Type  string
	ID    int64
	Attrs map[string]any
}

// typeDef is the in-memory registry entry for one object type.
type typeDef struct {
	id      int64
	attrs   map[string]Attr
	indexes [][]string
}

// Attribute names that collide with query filter keys cannot be registered.
var reservedAttributes = map[string]struct{}{
	"parent": {}, "object": {}, "keywords": {}, "type": {},
	"limit": {}, "attrs": {}, "distinct": {},
}

// Attribute columns every object table carries regardless of registration.
var implicitAttributes = map[string]Attr{
	"id":          {Type: TypeInt, Flags: AttrSearchable},
	"parent_type": {Type: TypeInt, Flags: AttrSearchable},
	"parent_id":   {Type: TypeInt, Flags: AttrSearchable},
	"pickle":      {Type: TypeBlob, Flags: AttrSearchable},
}

// Type and attribute names end up in SQL identifiers, so they are restricted
// to a safe alphabet.
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// True-case values of lower-cased indexed columns are kept in the blob under
// this prefix.
const shadowPrefix = "__"
