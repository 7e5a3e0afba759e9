// Package document implements the snippet-retrieval capability over the
// documents table. Narratives are stored as prepared text; this package only
// scopes them to an owner and trims them to a prompt-sized snippet.
package document

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/avercamp/lectern/internal/storage"
)

const defaultSnippetLimit = 6000 // runes

// ErrNotFound is returned when the document does not exist or belongs to a
// different owner.
var ErrNotFound = errors.New("document not found")

// DocStore is the storage surface the retriever needs.
type DocStore interface {
	GetDocument(id, ownerID string) (storage.Document, error)
}

// Retriever fetches owner-scoped document snippets.
type Retriever struct {
	store        DocStore
	snippetLimit int
}

// NewRetriever creates a Retriever. If snippetLimit <= 0 the default is used.
func NewRetriever(store DocStore, snippetLimit int) *Retriever {
	if snippetLimit <= 0 {
		snippetLimit = defaultSnippetLimit
	}
	return &Retriever{store: store, snippetLimit: snippetLimit}
}

// Snippet returns the document content truncated to the snippet limit.
func (r *Retriever) Snippet(documentRef, ownerID string) (string, error) {
	doc, err := r.store.GetDocument(documentRef, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("document %s: %w", documentRef, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading document %s: %w", documentRef, err)
	}

	content := strings.TrimSpace(doc.Content)
	if utf8.RuneCountInString(content) <= r.snippetLimit {
		return content, nil
	}

	runes := []rune(content)
	return string(runes[:r.snippetLimit]), nil
}
