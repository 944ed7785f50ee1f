package rag

import (
	"regexp"
	"strings"
)

// Query categories used by the metrics tracker.
const (
	CategoryMath       = "math"
	CategoryDefinition = "definition"
	CategoryHowTo      = "howto"
	CategoryGeneral    = "general"
)

// Classifier decides whether a query is mathematical and assigns it a
// category. It is an interface so the heuristic can be swapped or tested
// independently of the generation flow.
type Classifier interface {
	IsMathQuery(query string) bool
	Category(query string) string
}

var (
	// LaTeX delimiters and common math commands/operators.
	notationPattern = regexp.MustCompile(
		`\$[^$]+\$|\\\(|\\\)|\\\[|\\\]|\\begin\{|\\frac|\\sum|\\int|\\prod|` +
			`\\partial|\\nabla|\\sqrt|\\infty|\\alpha|\\beta|\\gamma|\\delta|` +
			`\\theta|\\lambda|\\omega|\\psi|\\phi|\\hbar|[=<>][=<>]?|\^[0-9{]|_\{`)

	// Indonesian and English math/physics vocabulary.
	vocabPattern = regexp.MustCompile(`(?i)\b(persamaan|rumus|turunan|integral|` +
		`diferensial|matriks|vektor|gelombang|medan|gaya|momentum|energi|panas|` +
		`getaran|optik|kuantum|relativitas|equation|formula|derivative|` +
		`differential|matrix|vector|wave|field|force|energy|heat|tensor|eigen|` +
		`laplace|fourier|poisson|schrodinger|maxwell|hamiltonian|lagrangian|` +
		`gradien|gradient|divergensi|divergence|quantum)\b`)

	definitionPattern = regexp.MustCompile(`(?i)\b(apa itu|apakah|definisi|pengertian|what is|define|definition)\b`)
	howToPattern      = regexp.MustCompile(`(?i)\b(bagaimana|cara|langkah|how to|how do|steps?)\b`)
)

// KeywordClassifier is the default pattern-based implementation.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (KeywordClassifier) IsMathQuery(query string) bool {
	return vocabPattern.MatchString(query) || notationPattern.MatchString(query)
}

func (c KeywordClassifier) Category(query string) string {
	switch {
	case c.IsMathQuery(query):
		return CategoryMath
	case definitionPattern.MatchString(query):
		return CategoryDefinition
	case howToPattern.MatchString(query):
		return CategoryHowTo
	default:
		return CategoryGeneral
	}
}

// ContainsMathNotation reports whether text carries mathematical notation or
// vocabulary. Used by the chunker to flag equation-bearing chunks.
func ContainsMathNotation(text string) bool {
	return notationPattern.MatchString(text) || vocabPattern.MatchString(text)
}

// NotationDensity returns notation matches per 1000 runes. High density means
// the text is formula-heavy and chunk overlap should grow so expressions stay
// intact across boundaries.
func NotationDensity(text string) float64 {
	runes := len([]rune(text))
	if runes == 0 {
		return 0
	}
	matches := notationPattern.FindAllStringIndex(text, -1)
	return float64(len(matches)) / float64(runes) * 1000
}

// MatchedVocabulary returns the lowercase math vocabulary words found in the
// query, in order of first appearance without duplicates.
func MatchedVocabulary(query string) []string {
	raw := vocabPattern.FindAllString(query, -1)
	seen := make(map[string]bool, len(raw))
	var words []string
	for _, w := range raw {
		lw := strings.ToLower(w)
		if !seen[lw] {
			seen[lw] = true
			words = append(words, lw)
		}
	}
	return words
}
