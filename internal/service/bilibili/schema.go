package bilibili

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Every payload the crawler reads is decoded into the structs below. Pointer
// fields mark keys the platform may omit; decoding never guesses a default.

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type searchEnvelope struct {
	envelope
	Data *struct {
		NumPages int         `json:"numPages"`
		Page     int         `json:"page"`
		Result   []SearchHit `json:"result"`
	} `json:"data"`
}

// SearchHit is one item of a video search page.
type SearchHit struct {
	BVID   string `json:"bvid"`
	AID    int64  `json:"aid"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// PlainTitle strips the keyword highlight markup the search endpoint wraps
// around matched terms.
func (h SearchHit) PlainTitle() string {
	if !strings.Contains(h.Title, "<") {
		return h.Title
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(h.Title))
	if err != nil {
		return h.Title
	}
	return strings.TrimSpace(doc.Text())
}

type viewEnvelope struct {
	envelope
	Data *ViewData `json:"data"`
}

// ViewData is the data section of the video-info endpoint.
type ViewData struct {
	AID      *int64     `json:"aid"`
	BVID     *string    `json:"bvid"`
	CID      *int64     `json:"cid"`
	Title    *string    `json:"title"`
	Duration *int64     `json:"duration"`
	Pubdate  *int64     `json:"pubdate"`
	Stat     *ViewStat  `json:"stat"`
	Owner    *ViewOwner `json:"owner"`
}

type ViewStat struct {
	View    *int64 `json:"view"`
	Danmaku *int64 `json:"danmaku"`
	Like    *int64 `json:"like"`
}

type ViewOwner struct {
	Mid  *int64  `json:"mid"`
	Name *string `json:"name"`
}

type danmakuDocument struct {
	Items []danmakuNode `xml:"d"`
}

type danmakuNode struct {
	P    string `xml:"p,attr"`
	Text string `xml:",chardata"`
}
