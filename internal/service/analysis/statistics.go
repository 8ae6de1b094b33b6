package analysis

import (
	"sort"
	"strings"
	"time"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

// Row is one comment flattened together with its video context.
type Row struct {
	VideoBVID  string
	VideoTitle string
	Keyword    string
	Content    string // trimmed
	AppearTime float64
	SendTime   time.Time
	Mode       int
	FontSize   int
	FontColor  int64
	AuthorHash *string
	Pool       *int
}

type ContentCount struct {
	Content   string
	Count     int
	FirstSeen time.Time
}

type KeywordCount struct {
	Keyword string
	Count   int
}

// Statistics holds the flattened rows and the two aggregate tables.
type Statistics struct {
	Rows          []Row
	TopContents   []ContentCount
	KeywordCounts []KeywordCount
}

// BuildRows flattens bundles in order, one row per comment.
func BuildRows(bundles []*domain.VideoDanmakuBundle) []Row {
	total := 0
	for _, b := range bundles {
		total += len(b.Danmaku)
	}

	rows := make([]Row, 0, total)
	for _, b := range bundles {
		for _, d := range b.Danmaku {
			rows = append(rows, Row{
				VideoBVID:  b.Video.BVID,
				VideoTitle: b.Video.Title,
				Keyword:    b.Video.Keyword,
				Content:    strings.TrimSpace(d.Content),
				AppearTime: d.AppearTime,
				SendTime:   d.SendTime.UTC(),
				Mode:       int(d.Mode),
				FontSize:   d.FontSize,
				FontColor:  d.FontColor,
				AuthorHash: d.AuthorHash,
				Pool:       d.Pool,
			})
		}
	}
	return rows
}

// TopContents counts identical non-empty contents and returns the n most
// frequent. Ties go to the content that was sent first.
func TopContents(rows []Row, n int) []ContentCount {
	if n <= 0 {
		return []ContentCount{}
	}

	index := make(map[string]int)
	counts := make([]ContentCount, 0)
	for _, r := range rows {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		i, ok := index[content]
		if !ok {
			index[content] = len(counts)
			counts = append(counts, ContentCount{Content: content, Count: 1, FirstSeen: r.SendTime})
			continue
		}
		counts[i].Count++
		if r.SendTime.Before(counts[i].FirstSeen) {
			counts[i].FirstSeen = r.SendTime
		}
	}

	sort.Slice(counts, func(a, b int) bool {
		if counts[a].Count != counts[b].Count {
			return counts[a].Count > counts[b].Count
		}
		if !counts[a].FirstSeen.Equal(counts[b].FirstSeen) {
			return counts[a].FirstSeen.Before(counts[b].FirstSeen)
		}
		return counts[a].Content < counts[b].Content
	})

	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

// KeywordDistribution counts rows per search keyword, most frequent first.
func KeywordDistribution(rows []Row) []KeywordCount {
	totals := make(map[string]int)
	for _, r := range rows {
		totals[r.Keyword]++
	}

	counts := make([]KeywordCount, 0, len(totals))
	for keyword, count := range totals {
		counts = append(counts, KeywordCount{Keyword: keyword, Count: count})
	}
	sort.Slice(counts, func(a, b int) bool {
		if counts[a].Count != counts[b].Count {
			return counts[a].Count > counts[b].Count
		}
		return counts[a].Keyword < counts[b].Keyword
	})
	return counts
}

func ComputeStatistics(bundles []*domain.VideoDanmakuBundle, topN int) (*Statistics, error) {
	if len(bundles) == 0 {
		return nil, errors.NewEmptyCorpusError("analysis", "no danmaku bundles to analyze")
	}

	rows := BuildRows(bundles)
	return &Statistics{
		Rows:          rows,
		TopContents:   TopContents(rows, topN),
		KeywordCounts: KeywordDistribution(rows),
	}, nil
}
