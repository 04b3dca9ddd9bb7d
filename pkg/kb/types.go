// Package kb models the knowledge corpus: parsed Markdown documents, their
// sections, and the token-budgeted chunks that feed the vector store.
package kb

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentType classifies a document by its corpus area.
type DocumentType string

const (
	TypeDocumentation DocumentType = "documentation"
	TypeProject       DocumentType = "project"
	TypePhilosophy    DocumentType = "philosophy"
	TypeResearch      DocumentType = "research"
)

// Section is one heading-delimited region of a document. Order-significant.
type Section struct {
	Heading string
	Level   int // 1-6; 0 for the synthetic "Main Content" section
	Content string
}

// Document is the parsed, immutable representation of one Markdown file.
type Document struct {
	Path     string
	Title    string
	Type     DocumentType
	Tags     []string
	Created  time.Time
	Content  string // body with front matter stripped
	Sections []Section

	// FrontMatter preserves unrecognized front-matter keys.
	FrontMatter map[string]any
}

// Chunk is the atomic retrieval unit persisted in the vector store.
type Chunk struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Source      string       `json:"source"`
	Section     string       `json:"section"`
	Type        DocumentType `json:"type"`
	Tags        []string     `json:"tags"`
	ChunkIndex  int          `json:"chunk_index"`
	TotalChunks int          `json:"total_chunks"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Fingerprint identifies a chunk within its source; no two results in a
// final search set may share one.
func (c Chunk) Fingerprint() string {
	return fmt.Sprintf("%s#%d", c.Source, c.ChunkIndex)
}

// ChunkID derives a stable point ID from (source, chunk_index) so that
// re-ingestion upserts instead of duplicating.
func ChunkID(source string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", source, chunkIndex))).String()
}

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
