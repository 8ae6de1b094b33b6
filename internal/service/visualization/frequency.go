package visualization

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/internal/service/analysis"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

const (
	// MaxWords caps how many distinct words a cloud shows.
	MaxWords     = 200
	minWordRunes = 2
)

type WordCount struct {
	Word  string
	Count int
}

// Frequencies tokenizes every comment, drops stopwords and single-rune
// fragments, and returns the MaxWords most frequent words.
func Frequencies(bundles []*domain.VideoDanmakuBundle, tokenizer Tokenizer, stopwords map[string]struct{}) ([]WordCount, error) {
	rows := analysis.BuildRows(bundles)
	if len(rows) == 0 {
		return nil, errors.NewEmptyCorpusError("wordcloud", "No danmaku data available to build a word cloud.")
	}

	counts := make(map[string]int)
	for _, row := range rows {
		for _, raw := range tokenizer.Cut(strings.TrimSpace(row.Content)) {
			token := CleanToken(raw)
			if token == "" {
				continue
			}
			if _, stop := stopwords[token]; stop {
				continue
			}
			if utf8.RuneCountInString(token) < minWordRunes {
				continue
			}
			counts[token]++
		}
	}
	if len(counts) == 0 {
		return nil, errors.NewEmptyCorpusError("wordcloud", "Tokenization produced an empty corpus.")
	}

	words := make([]WordCount, 0, len(counts))
	for w, c := range counts {
		words = append(words, WordCount{Word: w, Count: c})
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].Count != words[j].Count {
			return words[i].Count > words[j].Count
		}
		return words[i].Word < words[j].Word
	})
	if len(words) > MaxWords {
		words = words[:MaxWords]
	}
	return words, nil
}
