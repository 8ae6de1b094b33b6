package domain

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

// minAttributeFields is the number of mandatory entries in a p attribute:
// appear_time,mode,font_size,font_color,send_time,author_hash,pool[,weight]
const minAttributeFields = 7

type DanmakuMode int

const (
	DanmakuModeScroll   DanmakuMode = 1
	DanmakuModeBottom   DanmakuMode = 4
	DanmakuModeTop      DanmakuMode = 5
	DanmakuModeReverse  DanmakuMode = 6
	DanmakuModeAdvanced DanmakuMode = 7
	DanmakuModeCode     DanmakuMode = 8
)

func (m DanmakuMode) String() string {
	switch m {
	case 1, 2, 3:
		return "scroll"
	case DanmakuModeBottom:
		return "bottom"
	case DanmakuModeTop:
		return "top"
	case DanmakuModeReverse:
		return "reverse"
	case DanmakuModeAdvanced:
		return "advanced"
	case DanmakuModeCode:
		return "code"
	default:
		return "mode_" + strconv.Itoa(int(m))
	}
}

// DanmakuRecord is one timed comment. AppearTime is the playback offset in
// seconds; SendTime is the wall-clock post time.
type DanmakuRecord struct {
	VideoBVID  string      `json:"video_bvid"`
	VideoCID   int64       `json:"video_cid"`
	Content    string      `json:"content"`
	AppearTime float64     `json:"appear_time"`
	SendTime   time.Time   `json:"send_time"`
	Mode       DanmakuMode `json:"mode"`
	FontSize   int         `json:"font_size"`
	FontColor  int64       `json:"font_color"`
	AuthorHash *string     `json:"author_hash"`
	Weight     *int        `json:"weight"`
	Pool       *int        `json:"pool"`
}

// ParseDanmakuAttributes decodes the comma separated p attribute of a
// comment node together with its text body.
func ParseDanmakuAttributes(p, text, bvid string, cid int64) (DanmakuRecord, error) {
	fields := strings.Split(p, ",")
	if len(fields) < minAttributeFields {
		return DanmakuRecord{}, errors.NewMalformedRecordError("unexpected danmaku payload", p, len(fields), nil)
	}

	appearTime, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return DanmakuRecord{}, malformedField(p, len(fields), "appear_time", err)
	}
	mode, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return DanmakuRecord{}, malformedField(p, len(fields), "mode", err)
	}
	fontSize, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return DanmakuRecord{}, malformedField(p, len(fields), "font_size", err)
	}
	fontColor, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		return DanmakuRecord{}, malformedField(p, len(fields), "font_color", err)
	}
	sendSeconds, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return DanmakuRecord{}, malformedField(p, len(fields), "send_time", err)
	}

	record := DanmakuRecord{
		VideoBVID:  bvid,
		VideoCID:   cid,
		Content:    text,
		AppearTime: appearTime,
		SendTime:   unixSeconds(sendSeconds),
		Mode:       DanmakuMode(mode),
		FontSize:   fontSize,
		FontColor:  fontColor,
		Pool:       lenientInt(fields[6]),
	}
	if hash := fields[5]; hash != "" {
		record.AuthorHash = &hash
	}
	if len(fields) > minAttributeFields {
		record.Weight = lenientInt(fields[7])
	}
	return record, nil
}

// Attributes re-serializes the record in p attribute field order.
func (r DanmakuRecord) Attributes() string {
	fields := []string{
		strconv.FormatFloat(r.AppearTime, 'f', -1, 64),
		strconv.Itoa(int(r.Mode)),
		strconv.Itoa(r.FontSize),
		strconv.FormatInt(r.FontColor, 10),
		formatUnixSeconds(r.SendTime),
		stringOrEmpty(r.AuthorHash),
		intOrEmpty(r.Pool),
	}
	if r.Weight != nil {
		fields = append(fields, intOrEmpty(r.Weight))
	}
	return strings.Join(fields, ",")
}

func malformedField(raw string, count int, field string, cause error) error {
	return errors.NewMalformedRecordError("invalid "+field+" in danmaku payload", raw, count, cause)
}

func lenientInt(raw string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &v
}

func unixSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

func formatUnixSeconds(t time.Time) string {
	if t.Nanosecond() == 0 {
		return strconv.FormatInt(t.Unix(), 10)
	}
	secs := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
