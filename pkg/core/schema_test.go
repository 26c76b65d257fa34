package core

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterTypeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	textAttr := Attr{Type: TypeText, Flags: AttrSearchable}

	tests := []struct {
		name    string
		typ     string
		attrs   map[string]Attr
		indexes [][]string
		wantErr error
	}{
		{
			name:    "bad type name",
			typ:     "Bad-Name",
			attrs:   map[string]Attr{"title": textAttr},
			wantErr: ErrSchema,
		},
		{
			name:    "no attributes",
			typ:     "empty",
			attrs:   nil,
			wantErr: ErrSchema,
		},
		{
			name:    "reserved attribute name",
			typ:     "doc",
			attrs:   map[string]Attr{"keywords": textAttr},
			wantErr: ErrSchema,
		},
		{
			name:    "implicit column collision",
			typ:     "doc",
			attrs:   map[string]Attr{"parent_id": textAttr},
			wantErr: ErrSchema,
		},
		{
			name:    "unsupported attribute type",
			typ:     "doc",
			attrs:   map[string]Attr{"when": {Type: "datetime"}},
			wantErr: ErrSchema,
		},
		{
			name:    "index on unknown attribute",
			typ:     "doc",
			attrs:   map[string]Attr{"title": textAttr},
			indexes: [][]string{{"title", "missing"}},
			wantErr: ErrSchema,
		},
		{
			name:    "index on simple attribute",
			typ:     "doc",
			attrs:   map[string]Attr{"title": textAttr, "notes": {Type: TypeText}},
			indexes: [][]string{{"title", "notes"}},
			wantErr: ErrSchema,
		},
		{
			name:    "single column multi index",
			typ:     "doc",
			attrs:   map[string]Attr{"title": textAttr},
			indexes: [][]string{{"title"}},
			wantErr: ErrSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RegisterType(ctx, tt.typ, tt.attrs, tt.indexes...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RegisterType() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterTypeIdempotent(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	if _, err := s.Add(ctx, "photo", nil, map[string]any{"title": "pic"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Same schema again must be a no-op, not a rebuild.
	registerMediaTypes(t, s)

	results, err := s.Query(ctx, &Query{Type: "photo"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 || results[0].Attrs["title"] != "pic" {
		t.Fatalf("object lost on idempotent re-registration: %+v", results)
	}
}

func TestRegisterTypeAddSimpleAttrInPlace(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	obj, err := s.Add(ctx, "photo", nil, map[string]any{"title": "pic", "rating": 4})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err = s.RegisterType(ctx, "photo", map[string]Attr{
		"title":  {Type: TypeText, Flags: AttrSearchable | AttrKeywords},
		"city":   {Type: TypeText, Flags: AttrSearchable | AttrIndexedIgnoreCase},
		"rating": {Type: TypeInt, Flags: AttrSearchable},
		"notes":  {Type: TypeText, Flags: AttrSimple},
		"mood":   {Type: TypeText, Flags: AttrSimple},
	})
	if err != nil {
		t.Fatalf("RegisterType() with new simple attr error = %v", err)
	}

	attrs, err := s.TypeAttrs("photo")
	if err != nil {
		t.Fatalf("TypeAttrs() error = %v", err)
	}
	if _, ok := attrs["mood"]; !ok {
		t.Error("new simple attribute missing from registry")
	}

	if err := s.Update(ctx, "photo", obj.ID, nil, map[string]any{"mood": "calm"}); err != nil {
		t.Fatalf("Update() with new attr error = %v", err)
	}
	results, err := s.Query(ctx, &Query{Object: &Ref{Type: "photo", ID: obj.ID}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	got := results[0]
	if got.Attrs["mood"] != "calm" || got.Attrs["rating"] != int64(4) || got.Attrs["title"] != "pic" {
		t.Errorf("attributes after in-place schema update = %v", got.Attrs)
	}
}

func TestRegisterTypeRebuildPreservesData(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	obj, err := s.Add(ctx, "photo", nil, map[string]any{
		"title":  "mountain pass",
		"city":   "Chamonix",
		"rating": 5,
		"notes":  "grainy",
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// A new materialized column forces a table rebuild.
	err = s.RegisterType(ctx, "photo", map[string]Attr{
		"title":  {Type: TypeText, Flags: AttrSearchable | AttrKeywords},
		"city":   {Type: TypeText, Flags: AttrSearchable | AttrIndexedIgnoreCase},
		"rating": {Type: TypeInt, Flags: AttrSearchable},
		"notes":  {Type: TypeText, Flags: AttrSimple},
		"year":   {Type: TypeInt, Flags: AttrSearchable},
	})
	if err != nil {
		t.Fatalf("RegisterType() with new column error = %v", err)
	}

	results, err := s.Query(ctx, &Query{Object: &Ref{Type: "photo", ID: obj.ID}})
	if err != nil {
		t.Fatalf("Query() after rebuild error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("object lost in rebuild")
	}
	got := results[0]
	if got.Attrs["title"] != "mountain pass" || got.Attrs["rating"] != int64(5) {
		t.Errorf("materialized columns not copied: %v", got.Attrs)
	}
	if got.Attrs["notes"] != "grainy" {
		t.Errorf("blob attributes not carried over: %v", got.Attrs)
	}
	if got.Attrs["city"] != "Chamonix" {
		t.Errorf("shadow true-case value not carried over: %v", got.Attrs)
	}

	// The new column is immediately usable.
	if err := s.Update(ctx, "photo", obj.ID, nil, map[string]any{"year": 2024}); err != nil {
		t.Fatalf("Update() on new column error = %v", err)
	}
	results, err = s.Query(ctx, &Query{Type: "photo", Where: map[string]any{"year": 2024}})
	if err != nil {
		t.Fatalf("Query(year) error = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("new column not queryable after rebuild")
	}

	// Keyword search still resolves the surviving object.
	refs, err := s.Search(ctx, "mountain", 10, "")
	if err != nil {
		t.Fatalf("Search() after rebuild error = %v", err)
	}
	if len(refs) != 1 || refs[0].ID != obj.ID {
		t.Errorf("Search() after rebuild = %v, want the original object", refs)
	}
}

func TestRegisterTypeMultiColumnIndex(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	err := s.RegisterType(ctx, "photo", map[string]Attr{
		"title":  {Type: TypeText, Flags: AttrSearchable | AttrKeywords},
		"city":   {Type: TypeText, Flags: AttrSearchable | AttrIndexedIgnoreCase},
		"rating": {Type: TypeInt, Flags: AttrSearchable},
		"notes":  {Type: TypeText, Flags: AttrSimple},
	}, []string{"city", "rating"})
	if err != nil {
		t.Fatalf("RegisterType() with multi index error = %v", err)
	}

	row, err := s.queryRow(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='objects_photo_city_rating_idx'")
	if err != nil {
		t.Fatalf("sqlite_master query error = %v", err)
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		t.Fatalf("scan error = %v", err)
	}
	if n != 1 {
		t.Errorf("multi-column index not created")
	}
}
