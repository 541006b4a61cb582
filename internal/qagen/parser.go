package qagen

import (
	"regexp"
	"strings"
)

// Model output is free text; markers are only trusted at line starts so a
// literal "Q:" inside an answer doesn't split the pair.
var (
	questionStart = regexp.MustCompile(`(?m)^\s*Q:`)
	answerStart   = regexp.MustCompile(`(?m)^\s*A:`)
)

// Minimum lengths, in runes, below which a pair is considered noise and
// dropped.
const (
	minQuestionLen = 10
	minAnswerLen   = 20
)

// ParsePairs extracts Q&A pairs from raw model output.
//
// The parser is deliberately tolerant: partial trailing entries, missing
// answers and noise around the markers are skipped rather than failing the
// whole batch. Questions are forced to end with "?". Zero pairs is a valid
// outcome.
func ParsePairs(raw string) []Pair {
	var pairs []Pair

	blocks := questionStart.Split(raw, -1)
	if len(blocks) < 2 {
		return nil
	}

	// blocks[0] is whatever preceded the first "Q:" marker.
	for _, block := range blocks[1:] {
		parts := answerStart.Split(block, 2)
		if len(parts) < 2 {
			continue
		}

		question := strings.TrimSpace(parts[0])
		answer := strings.TrimSpace(parts[1])
		if question == "" || answer == "" {
			continue
		}

		if !strings.HasSuffix(question, "?") {
			question += "?"
		}

		if len([]rune(question)) <= minQuestionLen || len([]rune(answer)) <= minAnswerLen {
			continue
		}

		pairs = append(pairs, Pair{Question: question, Answer: answer})
	}

	return pairs
}
