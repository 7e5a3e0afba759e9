package document

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/avercamp/lectern/internal/storage"
)

// mockDocStore is a test double for DocStore.
type mockDocStore struct {
	docs map[string]storage.Document
}

func (m *mockDocStore) GetDocument(id, ownerID string) (storage.Document, error) {
	doc, ok := m.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return storage.Document{}, storage.ErrNotFound
	}
	return doc, nil
}

func TestSnippetReturnsContent(t *testing.T) {
	store := &mockDocStore{docs: map[string]storage.Document{
		"doc-1": {ID: "doc-1", OwnerID: "alice", Content: "  leafy content  "},
	}}
	r := NewRetriever(store, 0)

	got, err := r.Snippet("doc-1", "alice")
	if err != nil {
		t.Fatalf("Snippet: %v", err)
	}
	if got != "leafy content" {
		t.Errorf("Snippet = %q, want trimmed content", got)
	}
}

func TestSnippetTruncatesLongContent(t *testing.T) {
	store := &mockDocStore{docs: map[string]storage.Document{
		"doc-1": {ID: "doc-1", OwnerID: "alice", Content: strings.Repeat("é", 100)},
	}}
	r := NewRetriever(store, 40)

	got, err := r.Snippet("doc-1", "alice")
	if err != nil {
		t.Fatalf("Snippet: %v", err)
	}
	if n := utf8.RuneCountInString(got); n != 40 {
		t.Errorf("snippet length = %d runes, want 40", n)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte rune")
	}
}

func TestSnippetNotFound(t *testing.T) {
	store := &mockDocStore{docs: map[string]storage.Document{
		"doc-1": {ID: "doc-1", OwnerID: "alice", Content: "x"},
	}}
	r := NewRetriever(store, 0)

	if _, err := r.Snippet("missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing doc = %v, want ErrNotFound", err)
	}
	// Wrong owner is indistinguishable from missing.
	if _, err := r.Snippet("doc-1", "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong owner = %v, want ErrNotFound", err)
	}
}
