package rag

import (
	"regexp"
	"strings"
)

// ThinkingExtractor splits an LLM answer into the final answer and an
// optional visible reasoning section. Pluggable so the pattern heuristics can
// be tested or replaced independently of the generation flow.
type ThinkingExtractor interface {
	Extract(answer string) (final string, thinking string)
}

var (
	thinkingTagPattern = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)

	// Heading-style labels, Indonesian and English.
	thinkingHeadingPattern = regexp.MustCompile(
		`(?is)(?:\*\*)?(?:proses berpikir|thinking process|langkah penyelesaian)(?:\*\*)?\s*:?\s*\n(.*?)\n\s*(?:\*\*)?(?:jawaban(?: akhir)?|answer|final answer)(?:\*\*)?\s*:?\s*\n`)

	numberedStepPattern = regexp.MustCompile(`(?m)^\s*\d+\.\s`)
)

// DelimiterThinkingExtractor tries explicit tags first, then heading labels,
// then a numbered-steps heuristic: a leading multi-step breakdown occupying
// less than 70% of the answer is treated as the thinking process.
type DelimiterThinkingExtractor struct{}

func NewThinkingExtractor() *DelimiterThinkingExtractor {
	return &DelimiterThinkingExtractor{}
}

func (DelimiterThinkingExtractor) Extract(answer string) (string, string) {
	if m := thinkingTagPattern.FindStringSubmatchIndex(answer); m != nil {
		thinking := strings.TrimSpace(answer[m[2]:m[3]])
		final := strings.TrimSpace(answer[:m[0]] + answer[m[1]:])
		return final, thinking
	}

	if m := thinkingHeadingPattern.FindStringSubmatchIndex(answer); m != nil {
		thinking := strings.TrimSpace(answer[m[2]:m[3]])
		final := strings.TrimSpace(answer[m[1]:])
		return final, thinking
	}

	if final, thinking, ok := splitNumberedSteps(answer); ok {
		return final, thinking
	}
	return strings.TrimSpace(answer), ""
}

// splitNumberedSteps detects an answer that opens with a numbered multi-step
// breakdown followed by prose. The step block must cover at least two steps
// and less than 70% of the total length to count as thinking.
func splitNumberedSteps(answer string) (string, string, bool) {
	trimmed := strings.TrimSpace(answer)
	if !numberedStepPattern.MatchString(trimmed) {
		return "", "", false
	}

	lines := strings.Split(trimmed, "\n")
	if !numberedStepPattern.MatchString(lines[0]) {
		return "", "", false
	}

	steps := 0
	end := 0
	for i, line := range lines {
		if numberedStepPattern.MatchString(line) {
			steps++
			end = i
			continue
		}
		// Continuation lines stay inside the block; a blank line after at
		// least two steps ends it.
		if strings.TrimSpace(line) == "" && steps >= 2 {
			end = i
			break
		}
		end = i
	}

	if steps < 2 || end >= len(lines)-1 {
		return "", "", false
	}

	thinking := strings.TrimSpace(strings.Join(lines[:end+1], "\n"))
	final := strings.TrimSpace(strings.Join(lines[end+1:], "\n"))
	if final == "" || len(thinking) >= len(trimmed)*7/10 {
		return "", "", false
	}
	return final, thinking, true
}
