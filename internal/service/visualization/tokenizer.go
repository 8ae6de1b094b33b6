package visualization

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-ego/gse"
)

// Tokenizer splits a comment into words.
type Tokenizer interface {
	Cut(text string) []string
}

// GSETokenizer segments Chinese text with the gse embedded dictionary and
// HMM for unknown words.
type GSETokenizer struct {
	seg gse.Segmenter
}

func NewGSETokenizer() (*GSETokenizer, error) {
	t := &GSETokenizer{}
	if err := t.seg.LoadDictEmbed(); err != nil {
		return nil, fmt.Errorf("failed to load segmenter dictionary: %w", err)
	}
	return t, nil
}

func (t *GSETokenizer) Cut(text string) []string {
	if text == "" {
		return nil
	}
	return t.seg.Cut(text, true)
}

// CleanToken keeps only letters, digits and underscores. Whitespace,
// punctuation, emoji and U+FFFD from broken encodings are removed.
func CleanToken(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DefaultStopwords are laughter and filler words that drown out the topic.
func DefaultStopwords() map[string]struct{} {
	words := []string{"", "哈哈哈", "哈哈", "哈哈哈哈", "感觉", "真的", "就是", "所以"}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
