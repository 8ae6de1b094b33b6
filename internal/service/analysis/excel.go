package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const (
	SheetDanmaku       = "danmaku"
	SheetTopContents   = "top_contents"
	SheetKeywordCounts = "keyword_counts"
)

var danmakuHeader = []interface{}{
	"video_bvid", "video_title", "keyword", "content", "appear_time", "send_time",
	"mode", "font_size", "font_color", "author_hash", "pool",
}

// ExportExcel writes the statistics as a three-sheet workbook and returns
// the written path. Parent directories are created as needed.
func ExportExcel(stats *Statistics, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetDanmaku); err != nil {
		return "", fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetTopContents, SheetKeywordCounts} {
		if _, err := f.NewSheet(name); err != nil {
			return "", fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	if err := writeRows(f, SheetDanmaku, danmakuHeader, danmakuRows(stats.Rows)); err != nil {
		return "", err
	}

	top := make([][]interface{}, 0, len(stats.TopContents))
	for _, c := range stats.TopContents {
		top = append(top, []interface{}{c.Content, c.Count})
	}
	if err := writeRows(f, SheetTopContents, []interface{}{"content", "count"}, top); err != nil {
		return "", err
	}

	keywords := make([][]interface{}, 0, len(stats.KeywordCounts))
	for _, k := range stats.KeywordCounts {
		keywords = append(keywords, []interface{}{k.Keyword, k.Count})
	}
	if err := writeRows(f, SheetKeywordCounts, []interface{}{"keyword", "count"}, keywords); err != nil {
		return "", err
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}
	return path, nil
}

func danmakuRows(rows []Row) [][]interface{} {
	out := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		hash := ""
		if r.AuthorHash != nil {
			hash = *r.AuthorHash
		}
		var pool interface{} = ""
		if r.Pool != nil {
			pool = *r.Pool
		}
		out = append(out, []interface{}{
			r.VideoBVID, r.VideoTitle, r.Keyword, r.Content, r.AppearTime,
			r.SendTime.Format("2006-01-02 15:04:05"),
			r.Mode, r.FontSize, r.FontColor, hash, pool,
		})
	}
	return out
}

func writeRows(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
