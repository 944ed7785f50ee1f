package rag

import (
	"fmt"
	"strings"
)

// Planner expands a raw query into ordered lexical variants to maximize
// recall. Earlier variants are tried first; retrieval short-circuits once
// enough results accumulate. Output is deterministic for a given query and
// document-title set.
type Planner struct {
	classifier Classifier
	maxTitles  int
}

func NewPlanner(classifier Classifier) *Planner {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	return &Planner{classifier: classifier, maxTitles: 2}
}

// Indonesian <-> English keyword pairs for cross-language recall: uploaded
// documents are often English while queries arrive in Indonesian.
var keywordTranslations = [][2]string{
	{"persamaan", "equation"},
	{"rumus", "formula"},
	{"gelombang", "wave"},
	{"turunan", "derivative"},
	{"matriks", "matrix"},
	{"vektor", "vector"},
	{"panas", "heat"},
	{"medan", "field"},
	{"gaya", "force"},
	{"energi", "energy"},
	{"getaran", "oscillation"},
	{"cahaya", "light"},
	{"listrik", "electric"},
	{"kecepatan", "velocity"},
}

// Canonical equation names appended when the query touches a known topic.
var topicEquations = map[string][]string{
	"gelombang":   {"wave equation", "persamaan gelombang satu dimensi"},
	"wave":        {"wave equation"},
	"poisson":     {"poisson equation", "persamaan poisson"},
	"panas":       {"heat equation", "persamaan panas"},
	"heat":        {"heat equation"},
	"laplace":     {"laplace equation"},
	"schrodinger": {"schrodinger equation", "persamaan schrodinger"},
	"maxwell":     {"maxwell equations"},
}

// Expand returns the ordered variant list: always the raw query, a
// quoted-exact variant, and a formula variant; math queries additionally get
// translated variants, topic equation names, and document-title splices.
func (p *Planner) Expand(query string, docTitles []string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	variants := []string{
		query,
		fmt.Sprintf("%q", query),
		query + " formula",
	}

	if p.classifier.IsMathQuery(query) {
		if translated := translateKeywords(query); translated != query {
			variants = append(variants, translated)
		}
		lower := strings.ToLower(query)
		for _, word := range strings.Fields(lower) {
			for _, eq := range topicEquations[strings.Trim(word, `"?!.,`)] {
				variants = append(variants, eq)
			}
		}
		count := 0
		for _, title := range docTitles {
			if count >= p.maxTitles {
				break
			}
			title = strings.TrimSpace(title)
			if title == "" {
				continue
			}
			variants = append(variants, query+" "+title)
			count++
		}
	}

	return dedupeStrings(variants)
}

// translateKeywords swaps every known keyword for its counterpart in the
// other language, both directions.
func translateKeywords(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		lw := strings.ToLower(strings.Trim(w, `"?!.,`))
		for _, pair := range keywordTranslations {
			if lw == pair[0] {
				words[i] = pair[1]
				break
			}
			if lw == pair[1] {
				words[i] = pair[0]
				break
			}
		}
	}
	return strings.Join(words, " ")
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}
