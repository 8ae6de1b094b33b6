package visualization

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/kapu/bilibili-danmaku-go/internal/constants"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/image/font"
)

const (
	spiralStep   = 4.0 // pixels of radius per radian
	spiralDelta  = 0.2 // radians per step
	shrinkFactor = 0.85
	wordPadding  = 2.0

	defaultMinFontSize = 10.0
	minFontSizeFloor   = 4.0
)

var palette = []string{
	"#440154", "#482878", "#3e4a89", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b",
}

type RenderConfig struct {
	Width          int
	Height         int
	Background     string // hex, e.g. "#ffffff"
	FontPath       string // empty means DetectFont(FontCandidates)
	FontCandidates []string
	MaxFontSize    float64
	MinFontSize    float64
}

// Placement is a word positioned by its center.
type Placement struct {
	Word string
	Size float64
	X, Y float64
	W, H float64
}

func (p Placement) overlaps(o Placement) bool {
	return math.Abs(p.X-o.X)*2 < p.W+o.W+2*wordPadding &&
		math.Abs(p.Y-o.Y)*2 < p.H+o.H+2*wordPadding
}

type Renderer struct {
	cfg    RenderConfig
	logger *zap.Logger
}

func NewRenderer(cfg RenderConfig, logger *zap.Logger) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = constants.ReportConfig.ImageWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = constants.ReportConfig.ImageHeight
	}
	if cfg.Background == "" {
		cfg.Background = constants.ReportConfig.Background
	}
	if cfg.FontCandidates == nil {
		cfg.FontCandidates = DefaultFontCandidates
	}
	if cfg.MaxFontSize <= 0 {
		cfg.MaxFontSize = float64(cfg.Height) / 5
	}
	if cfg.MinFontSize <= 0 {
		cfg.MinFontSize = defaultMinFontSize
	}
	cfg.MinFontSize = max(cfg.MinFontSize, minFontSizeFloor)
	if cfg.MinFontSize > cfg.MaxFontSize {
		cfg.MinFontSize = max(cfg.MaxFontSize, minFontSizeFloor)
		cfg.MaxFontSize = cfg.MinFontSize
	}
	return &Renderer{cfg: cfg, logger: logger}
}

// Render draws words as a cloud and writes a PNG to path, creating parent
// directories. Words that fit nowhere at the minimum size are left out.
func (r *Renderer) Render(words []WordCount, path string) (string, error) {
	if len(words) == 0 {
		return "", errors.NewEmptyCorpusError("wordcloud", "Tokenization produced an empty corpus.")
	}

	ttf := r.resolveFont()
	faces := make(map[float64]font.Face)
	faceFor := func(size float64) font.Face {
		if f, ok := faces[size]; ok {
			return f
		}
		f := truetype.NewFace(ttf, &truetype.Options{Size: size})
		faces[size] = f
		return f
	}

	dc := gg.NewContext(r.cfg.Width, r.cfg.Height)
	dc.SetHexColor(r.cfg.Background)
	dc.Clear()

	measure := func(word string, size float64) (float64, float64) {
		dc.SetFontFace(faceFor(size))
		return dc.MeasureString(word)
	}
	placements := layout(words, float64(r.cfg.Width), float64(r.cfg.Height), r.cfg.MaxFontSize, r.cfg.MinFontSize, measure)

	for i, p := range placements {
		dc.SetFontFace(faceFor(p.Size))
		dc.SetHexColor(palette[i%len(palette)])
		dc.DrawStringAnchored(p.Word, p.X, p.Y, 0.5, 0.5)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	r.logger.Info("Word cloud rendered",
		zap.String("path", path),
		zap.Int("words", len(words)),
		zap.Int("placed", len(placements)),
	)
	return path, nil
}

func (r *Renderer) resolveFont() *truetype.Font {
	path := r.cfg.FontPath
	if path == "" {
		path = DetectFont(r.cfg.FontCandidates)
	}
	if path == "" {
		r.logger.Warn("No CJK font found, Chinese words will not render; pass --font-path")
		return fallbackFont()
	}

	f, err := loadFont(path)
	if err != nil {
		r.logger.Warn("Font unusable, falling back to built-in font", zap.String("font", path), zap.Error(err))
		return fallbackFont()
	}
	return f
}

// layout places words in order along an Archimedean spiral from the canvas
// center. Font size scales with the square root of the count relative to
// the most frequent word and shrinks until the word fits.
func layout(words []WordCount, width, height, maxSize, minSize float64, measure func(word string, size float64) (float64, float64)) []Placement {
	if len(words) == 0 {
		return nil
	}
	top := float64(words[0].Count)
	placed := make([]Placement, 0, len(words))

	for _, wc := range words {
		tried := 0.0
		for size := minSize + (maxSize-minSize)*math.Sqrt(float64(wc.Count)/top); size >= minSize; size *= shrinkFactor {
			rounded := math.Round(size)
			if rounded < 1 {
				break
			}
			if rounded == tried {
				continue
			}
			tried = rounded
			w, h := measure(wc.Word, rounded)
			if p, ok := spiralFit(wc.Word, rounded, w, h, width, height, placed); ok {
				placed = append(placed, p)
				break
			}
		}
	}
	return placed
}

func spiralFit(word string, size, w, h, width, height float64, placed []Placement) (Placement, bool) {
	if w > width || h > height {
		return Placement{}, false
	}
	cx, cy := width/2, height/2
	aspect := width / height
	maxRadius := math.Hypot(width, height) / 2

	for t := 0.0; spiralStep*t <= maxRadius; t += spiralDelta {
		radius := spiralStep * t
		candidate := Placement{
			Word: word,
			Size: size,
			X:    cx + radius*math.Cos(t)*aspect,
			Y:    cy + radius*math.Sin(t),
			W:    w,
			H:    h,
		}
		if candidate.X-w/2 < 0 || candidate.X+w/2 > width || candidate.Y-h/2 < 0 || candidate.Y+h/2 > height {
			continue
		}
		free := true
		for _, p := range placed {
			if candidate.overlaps(p) {
				free = false
				break
			}
		}
		if free {
			return candidate, true
		}
	}
	return Placement{}, false
}
