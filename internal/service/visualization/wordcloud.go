package visualization

import (
	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"go.uber.org/zap"
)

// WordCloud turns bundles into a rendered word cloud image.
type WordCloud struct {
	tokenizer Tokenizer
	renderer  *Renderer
	stopwords map[string]struct{}
	logger    *zap.Logger
}

func NewWordCloud(tokenizer Tokenizer, renderer *Renderer, extraStopwords []string, logger *zap.Logger) *WordCloud {
	stopwords := DefaultStopwords()
	for _, w := range extraStopwords {
		stopwords[w] = struct{}{}
	}
	return &WordCloud{
		tokenizer: tokenizer,
		renderer:  renderer,
		stopwords: stopwords,
		logger:    logger,
	}
}

func (w *WordCloud) Generate(bundles []*domain.VideoDanmakuBundle, path string) (string, error) {
	words, err := Frequencies(bundles, w.tokenizer, w.stopwords)
	if err != nil {
		return "", err
	}
	w.logger.Debug("Word frequencies computed",
		zap.Int("bundles", len(bundles)),
		zap.Int("distinct_words", len(words)),
		zap.String("top_word", words[0].Word),
	)
	return w.renderer.Render(words, path)
}
