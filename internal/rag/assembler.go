package rag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const citationExcerptLimit = 200

// Citation points a piece of the answer back to its source document/page.
// Citations are ephemeral: regenerated per answer, never persisted.
type Citation struct {
	Source  string `json:"source"`
	Page    *int   `json:"page"`
	Excerpt string `json:"excerpt"`
}

// Matches a references heading whether the model put it on its own line or
// ran the list inline after the colon.
var referencesPattern = regexp.MustCompile(`(?im)^\s*(referensi|references|daftar pustaka|sumber)\s*(:|$)`)

// Assemble formats retrieved chunks into the citation-tagged context block
// and the parallel citation list. Every context block has exactly one
// citation, in the same order.
func Assemble(chunks []RetrievedChunk) (string, []Citation) {
	if len(chunks) == 0 {
		return "", nil
	}

	var b strings.Builder
	citations := make([]Citation, 0, len(chunks))
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if chunk.Page > 0 {
			fmt.Fprintf(&b, "--- Document #%d: %s (halaman %d) ---\n", i+1, chunk.Source, chunk.Page)
		} else {
			fmt.Fprintf(&b, "--- Document #%d: %s ---\n", i+1, chunk.Source)
		}
		b.WriteString(chunk.Content)

		var page *int
		if chunk.Page > 0 {
			p := chunk.Page
			page = &p
		}
		citations = append(citations, Citation{
			Source:  chunk.Source,
			Page:    page,
			Excerpt: truncateRunes(strings.TrimSpace(chunk.Content), citationExcerptLimit),
		})
	}
	return b.String(), citations
}

// EnsureReferences appends a references section when the model's raw answer
// lacks one, deduplicating citations by (source, page) and numbering them in
// first-seen order.
func EnsureReferences(answer string, citations []Citation) string {
	if len(citations) == 0 || referencesPattern.MatchString(answer) {
		return answer
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(answer, "\n"))
	b.WriteString("\n\nReferensi:\n")

	seen := make(map[string]bool, len(citations))
	n := 0
	for _, c := range citations {
		key := c.Source
		if c.Page != nil {
			key = fmt.Sprintf("%s#%d", c.Source, *c.Page)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		n++
		if c.Page != nil {
			fmt.Fprintf(&b, "%d. %s (halaman %d)\n", n, c.Source, *c.Page)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", n, c.Source)
		}
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
