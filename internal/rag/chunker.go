package rag

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ChunkerOptions control chunk sizing. Sizes are in runes. Equation-bearing
// documents get the enlarged size/overlap so formulas are not split
// mid-expression; overlap grows further when notation density is high.
type ChunkerOptions struct {
	ChunkSize            int
	ChunkOverlap         int
	EquationChunkSize    int
	EquationChunkOverlap int
	DenseNotationOverlap int
}

func (o *ChunkerOptions) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = 200
	}
	if o.EquationChunkSize < 1800 {
		o.EquationChunkSize = 1800
	}
	if o.EquationChunkOverlap < 400 {
		o.EquationChunkOverlap = 400
	}
	if o.DenseNotationOverlap < 600 {
		o.DenseNotationOverlap = 600
	}
}

// Draft is a chunk before embedding and persistence.
type Draft struct {
	Index       int
	Content     string
	Page        int // 0 = unknown
	HasEquation bool
	ChunkType   string
}

// Chunker splits extracted document text into overlapping chunks using a
// prioritized separator cascade: page-boundary marker, blank line, newline,
// sentence end, space. A run that no separator can break is emitted whole,
// even when it exceeds the chunk size.
type Chunker struct {
	opts ChunkerOptions
}

// Separator cascade, coarsest first. The page marker matches the `## Page N`
// boundaries the PDF extractor emits.
var chunkSeparators = []string{"\n## Page ", "\n\n", "\n", ". ", " "}

var pageMarkerPattern = regexp.MustCompile(`## Page (\d+)`)

// Notation matches per 1000 runes above which overlap grows to the dense
// setting.
const denseNotationThreshold = 8.0

func NewChunker(opts ChunkerOptions) *Chunker {
	opts.applyDefaults()
	return &Chunker{opts: opts}
}

// Chunk splits text into ordered drafts. Empty input yields nil.
func (c *Chunker) Chunk(text string) []Draft {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	size := c.opts.ChunkSize
	overlap := c.opts.ChunkOverlap
	if ContainsMathNotation(text) {
		if size < c.opts.EquationChunkSize {
			size = c.opts.EquationChunkSize
		}
		if overlap < c.opts.EquationChunkOverlap {
			overlap = c.opts.EquationChunkOverlap
		}
		if NotationDensity(text) >= denseNotationThreshold && overlap < c.opts.DenseNotationOverlap {
			overlap = c.opts.DenseNotationOverlap
		}
	}
	if overlap >= size {
		overlap = size / 2
	}

	pieces := splitCascade(text, chunkSeparators, size)
	contents := mergePieces(pieces, size, overlap)

	drafts := make([]Draft, 0, len(contents))
	currentPage := 0
	for i, content := range contents {
		seed := overlap
		if i == 0 {
			seed = 0
		}
		page := currentPage
		// The cascade keeps "\n## Page " attached to the preceding piece, so
		// a marker can straddle the overlap seam. Scan the full content and
		// use the seed boundary to decide whether the chunk opens on a page.
		seedBytes := len(content) - len(dropLeadingRunes(content, seed))
		if markers := pageMarkerPattern.FindAllStringSubmatchIndex(content, -1); len(markers) > 0 {
			first := markers[0]
			if first[0] <= seedBytes || strings.TrimSpace(content[seedBytes:first[0]]) == "" {
				page, _ = strconv.Atoi(content[first[2]:first[3]])
			}
			last := markers[len(markers)-1]
			currentPage, _ = strconv.Atoi(content[last[2]:last[3]])
		}

		hasEq := ContainsMathNotation(content)
		chunkType := "text"
		if hasEq {
			chunkType = "equation"
		}
		drafts = append(drafts, Draft{
			Index:       i,
			Content:     content,
			Page:        page,
			HasEquation: hasEq,
			ChunkType:   chunkType,
		})
	}
	return drafts
}

// splitCascade breaks text into pieces no longer than size where possible,
// preferring the coarsest separator and recursing into finer ones only for
// oversized parts. Separators stay attached to the preceding piece so the
// concatenation of all pieces reproduces the input exactly.
func splitCascade(text string, separators []string, size int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	if len(separators) == 0 {
		// No separator can break this run; emit it oversized rather than
		// dropping or slicing mid-token.
		return []string{text}
	}

	parts := strings.SplitAfter(text, separators[0])
	if len(parts) == 1 {
		return splitCascade(text, separators[1:], size)
	}

	var pieces []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= size {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, splitCascade(part, separators[1:], size)...)
	}
	return pieces
}

// mergePieces greedily packs pieces into chunks of at most size runes,
// seeding each new chunk with the last overlap runes of its predecessor.
func mergePieces(pieces []string, size, overlap int) []string {
	var chunks []string
	var current string
	currentLen := 0

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if current != "" && currentLen+pieceLen > size {
			chunks = append(chunks, current)
			current = lastRunes(current, overlap)
			currentLen = utf8.RuneCountInString(current)
		}
		current += piece
		currentLen += pieceLen
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func dropLeadingRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return ""
	}
	return string(runes[n:])
}
