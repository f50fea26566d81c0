package pipeline

import "strings"

// TokenCounter estimates how many model tokens a text costs. The budget
// check and the {TOKEN_COUNT} placeholder both go through this interface so
// a real BPE tokenizer can be plugged in without touching the pipeline.
type TokenCounter interface {
	Count(text string) int
}

// WordTokenCounter approximates tokens by whitespace-separated words. It is
// the default estimator; coarse, but deterministic and dependency-free.
type WordTokenCounter struct{}

func (WordTokenCounter) Count(text string) int {
	return len(strings.Fields(text))
}
