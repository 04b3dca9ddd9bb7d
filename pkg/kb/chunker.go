package kb

import (
	"strings"
	"time"
)

// ChunkerConfig bounds chunk sizes. Token counts are the chars/4 estimate.
type ChunkerConfig struct {
	// MaxTokens is the soft budget per chunk (default 600).
	MaxTokens int
	// Overlap is the token length of the suffix carried into the next
	// chunk (default 100).
	Overlap int
}

func (c *ChunkerConfig) SetDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 600
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	} else if c.Overlap == 0 {
		c.Overlap = 100
	}
}

// Chunker splits documents into token-budgeted, overlap-seeded chunks.
// Fenced code blocks and list items are atomic: a block is never split, and
// a block larger than the budget is emitted alone.
type Chunker struct {
	config ChunkerConfig
}

func NewChunker(cfg ChunkerConfig) *Chunker {
	cfg.SetDefaults()
	return &Chunker{config: cfg}
}

// ChunkDocument produces the ordered chunk list for a document. Every chunk
// text is prefixed with its section heading; TotalChunks is backfilled once
// the document is complete.
func (c *Chunker) ChunkDocument(doc *Document) []Chunk {
	now := time.Now().UTC()
	var chunks []Chunk

	for _, section := range doc.Sections {
		for _, body := range c.splitSection(section.Content) {
			text := section.Heading + "\n\n" + body
			chunks = append(chunks, Chunk{
				ID:         ChunkID(doc.Path, len(chunks)),
				Text:       text,
				Source:     doc.Path,
				Section:    section.Heading,
				Type:       doc.Type,
				Tags:       doc.Tags,
				ChunkIndex: len(chunks),
				CreatedAt:  now,
			})
		}
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// splitSection accumulates blank-line-delimited blocks into chunks. When
// appending a block would exceed the budget, the current chunk is emitted
// and the next is seeded with a trailing-block suffix of at most
// overlap*4 characters.
func (c *Chunker) splitSection(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	blocks := splitBlocks(content)
	maxChars := c.config.MaxTokens * 4
	overlapChars := c.config.Overlap * 4

	var out []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, "\n\n"))

		var seed []string
		seedLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			blockLen := len(current[i]) + 2
			if seedLen+blockLen > overlapChars {
				break
			}
			seed = append([]string{current[i]}, seed...)
			seedLen += blockLen
		}
		current = seed
		currentLen = seedLen
	}

	for _, block := range blocks {
		blockLen := len(block)
		if currentLen > 0 {
			blockLen += 2 // joining blank line
		}
		if currentLen+blockLen > maxChars && currentLen > 0 {
			flush()
			blockLen = len(block)
			if currentLen > 0 {
				blockLen += 2
			}
		}
		current = append(current, block)
		currentLen += blockLen

		// An oversized atomic block goes out alone, without dragging the
		// overlap seed past the invariant.
		if len(block) > maxChars {
			out = append(out, strings.Join(current, "\n\n"))
			current = nil
			currentLen = 0
		}
	}

	// Emit the remainder unless it is purely the overlap seed of an
	// already-emitted chunk.
	if len(current) > 0 && currentLen > 0 {
		tail := strings.Join(current, "\n\n")
		if len(out) == 0 || !strings.HasSuffix(out[len(out)-1], tail) {
			out = append(out, tail)
		}
	}

	return out
}

// splitBlocks splits on blank-line boundaries while keeping fenced code
// blocks intact, even when the fence body contains blank lines.
func splitBlocks(content string) []string {
	lines := strings.Split(content, "\n")

	var blocks []string
	var current []string
	inFence := false

	flush := func() {
		if len(current) == 0 {
			return
		}
		block := strings.TrimRight(strings.Join(current, "\n"), "\n")
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		isFenceLine := strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")

		if isFenceLine {
			if !inFence {
				flush() // fence starts its own block
				inFence = true
				current = append(current, line)
				continue
			}
			current = append(current, line)
			inFence = false
			flush()
			continue
		}

		if trimmed == "" && !inFence {
			flush()
			continue
		}

		current = append(current, line)
	}
	flush()

	return blocks
}
