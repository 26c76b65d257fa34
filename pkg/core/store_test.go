package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// registerMediaTypes sets up the photo/album fixture shared by most tests.
func registerMediaTypes(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	err := s.RegisterType(ctx, "album", map[string]Attr{
		"title": {Type: TypeText, Flags: AttrSearchable},
	})
	if err != nil {
		t.Fatalf("RegisterType(album) error = %v", err)
	}

	err = s.RegisterType(ctx, "photo", map[string]Attr{
		"title":  {Type: TypeText, Flags: AttrSearchable | AttrKeywords},
		"city":   {Type: TypeText, Flags: AttrSearchable | AttrIndexedIgnoreCase},
		"rating": {Type: TypeInt, Flags: AttrSearchable},
		"notes":  {Type: TypeText, Flags: AttrSimple},
	})
	if err != nil {
		t.Fatalf("RegisterType(photo) error = %v", err)
	}
}

func TestAddQueryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	obj, err := s.Add(ctx, "photo", nil, map[string]any{
		"title":  "summer vacation",
		"city":   "Paris",
		"rating": 5,
		"notes":  "shot on film",
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if obj.ID == 0 {
		t.Fatal("Add() assigned no id")
	}

	results, err := s.Query(ctx, &Query{Object: &Ref{Type: "photo", ID: obj.ID}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Query() returned %d objects, want 1", len(results))
	}

	got := results[0]
	if got.Type != "photo" || got.ID != obj.ID {
		t.Errorf("Query() identity = %s/%d, want photo/%d", got.Type, got.ID, obj.ID)
	}
	want := map[string]any{
		"title":  "summer vacation",
		"city":   "Paris", // true case restored from the blob
		"rating": int64(5),
		"notes":  "shot on film",
	}
	for name, wantVal := range want {
		if got.Attrs[name] != wantVal {
			t.Errorf("attr %q = %v (%T), want %v", name, got.Attrs[name], got.Attrs[name], wantVal)
		}
	}
}

func TestAddNilSimpleOmitted(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	obj, err := s.Add(ctx, "photo", nil, map[string]any{
		"title": "untitled",
		"notes": nil,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	results, err := s.Query(ctx, &Query{Object: &Ref{Type: "photo", ID: obj.ID}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, ok := results[0].Attrs["notes"]; ok {
		t.Error("nil simple attribute should be omitted from storage")
	}
}

func TestAddUnknownAttribute(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)

	_, err := s.Add(context.Background(), "photo", nil, map[string]any{"bogus": 1})
	if !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("Add() error = %v, want ErrUnknownAttribute", err)
	}
}

func TestAddTypeMismatch(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)

	_, err := s.Add(context.Background(), "photo", nil, map[string]any{"rating": "high"})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Add() error = %v, want ErrTypeMismatch", err)
	}
}

func TestCaseInsensitiveIndexedSearch(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	obj, err := s.Add(ctx, "photo", nil, map[string]any{"title": "tower", "city": "Paris"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for _, probe := range []string{"paris", "Paris", "PARIS"} {
		results, err := s.Query(ctx, &Query{Type: "photo", Where: map[string]any{"city": probe}})
		if err != nil {
			t.Fatalf("Query(city=%q) error = %v", probe, err)
		}
		if len(results) != 1 || results[0].ID != obj.ID {
			t.Errorf("Query(city=%q) returned %d results, want the stored photo", probe, len(results))
		}
		if results[0].Attrs["city"] != "Paris" {
			t.Errorf("Query(city=%q) lost true case: got %v", probe, results[0].Attrs["city"])
		}
	}
}

func TestUpdateMergesAttributes(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	obj, err := s.Add(ctx, "photo", nil, map[string]any{
		"title": "old title",
		"notes": "keep me",
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := s.Update(ctx, "photo", obj.ID, nil, map[string]any{"title": "new title"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	results, err := s.Query(ctx, &Query{Object: &Ref{Type: "photo", ID: obj.ID}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	got := results[0]
	if got.Attrs["title"] != "new title" {
		t.Errorf("title = %v, want %q", got.Attrs["title"], "new title")
	}
	if got.Attrs["notes"] != "keep me" {
		t.Errorf("unspecified simple attr not retained: notes = %v", got.Attrs["notes"])
	}
}

func TestUpdateNilDeletesSimpleAttr(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	obj, err := s.Add(ctx, "photo", nil, map[string]any{"title": "x", "notes": "temp"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Update(ctx, "photo", obj.ID, nil, map[string]any{"notes": nil}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	results, err := s.Query(ctx, &Query{Object: &Ref{Type: "photo", ID: obj.ID}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, ok := results[0].Attrs["notes"]; ok {
		t.Error("simple attribute set to nil should be removed")
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)

	err := s.Update(context.Background(), "photo", 9999, nil, map[string]any{"title": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	registerMediaTypes(t, s)
	obj, err := s.Add(ctx, "photo", nil, map[string]any{"title": "durable"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The registry must reload from the metadata table without
	// re-registration.
	s2, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s2.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer s2.Close()

	results, err := s2.Query(ctx, &Query{Object: &Ref{Type: "photo", ID: obj.ID}})
	if err != nil {
		t.Fatalf("Query() after reopen error = %v", err)
	}
	if len(results) != 1 || results[0].Attrs["title"] != "durable" {
		t.Fatalf("object did not survive reopen: %+v", results)
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	album, err := s.Add(ctx, "album", nil, map[string]any{"title": "trip"})
	if err != nil {
		t.Fatalf("Add(album) error = %v", err)
	}
	parent := &Ref{Type: "album", ID: album.ID}
	p1, err := s.Add(ctx, "photo", parent, map[string]any{"title": "sunrise ridge"})
	if err != nil {
		t.Fatalf("Add(photo) error = %v", err)
	}
	if _, err := s.Add(ctx, "photo", parent, map[string]any{"title": "sunset ridge"}); err != nil {
		t.Fatalf("Add(photo) error = %v", err)
	}
	// Grandchild in a different type.
	if _, err := s.Add(ctx, "album", &Ref{Type: "photo", ID: p1.ID}, map[string]any{"title": "derived"}); err != nil {
		t.Fatalf("Add(nested album) error = %v", err)
	}

	count, err := s.Delete(ctx, "album", album.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if count != 4 {
		t.Errorf("Delete() removed %d objects, want 4", count)
	}

	for _, typeName := range []string{"album", "photo"} {
		results, err := s.Query(ctx, &Query{Type: typeName})
		if err != nil {
			t.Fatalf("Query(%s) error = %v", typeName, err)
		}
		if len(results) != 0 {
			t.Errorf("%d %s objects survived the cascade", len(results), typeName)
		}
	}

	// All postings of the deleted photos must be retracted.
	row, err := s.queryRow(ctx, "SELECT COUNT(*) FROM words_map")
	if err != nil {
		t.Fatalf("posting count query error = %v", err)
	}
	var postings int64
	if err := row.Scan(&postings); err != nil {
		t.Fatalf("posting count scan error = %v", err)
	}
	if postings != 0 {
		t.Errorf("%d postings survived the cascade", postings)
	}
}

func TestDeleteByQuery(t *testing.T) {
	s := newTestStore(t)
	registerMediaTypes(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Add(ctx, "photo", nil, map[string]any{"title": "shot", "rating": 1}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if _, err := s.Add(ctx, "photo", nil, map[string]any{"title": "keeper", "rating": 5}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	count, err := s.DeleteByQuery(ctx, &Query{Type: "photo", Where: map[string]any{"rating": 1}})
	if err != nil {
		t.Fatalf("DeleteByQuery() error = %v", err)
	}
	if count != 3 {
		t.Errorf("DeleteByQuery() removed %d, want 3", count)
	}

	rest, err := s.Query(ctx, &Query{Type: "photo"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rest) != 1 || rest[0].Attrs["title"] != "keeper" {
		t.Errorf("wrong survivors: %+v", rest)
	}
}
