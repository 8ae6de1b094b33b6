package bilibili

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kapu/bilibili-danmaku-go/internal/constants"
	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"go.uber.org/zap"
)

type Endpoints struct {
	Search      string
	View        string
	DanmakuList string
	VideoPage   string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Search:      constants.APIConfig.SearchURL,
		View:        constants.APIConfig.ViewURL,
		DanmakuList: constants.APIConfig.DanmakuListURL,
		VideoPage:   constants.APIConfig.VideoPageBaseURL,
	}
}

// API maps the three platform endpoints onto typed calls.
type API struct {
	fetcher   Fetcher
	endpoints Endpoints
	order     string
	logger    *zap.Logger
}

func NewAPI(fetcher Fetcher, endpoints Endpoints, order string, logger *zap.Logger) *API {
	if order == "" {
		order = constants.CrawlerDefaults.Order
	}
	return &API{
		fetcher:   fetcher,
		endpoints: endpoints,
		order:     order,
		logger:    logger,
	}
}

// Search returns one page of video search results. An empty slice means the
// keyword has no more pages.
func (a *API) Search(ctx context.Context, keyword string, page int) ([]SearchHit, error) {
	params := url.Values{}
	params.Set("search_type", constants.APIConfig.SearchType)
	params.Set("keyword", keyword)
	params.Set("page", strconv.Itoa(page))
	params.Set("order", a.order)

	body, err := a.fetcher.Get(ctx, a.endpoints.Search, params, nil)
	if err != nil {
		return nil, err
	}

	var payload searchEnvelope
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response for %q page %d: %w", keyword, page, err)
	}
	if payload.Code != 0 {
		return nil, errors.NewAPIError(
			fmt.Sprintf("search rejected: %s", payload.Message), a.endpoints.Search, payload.Code)
	}
	if payload.Data == nil {
		return []SearchHit{}, nil
	}

	a.logger.Debug("Search page fetched",
		zap.String("keyword", keyword),
		zap.Int("page", page),
		zap.Int("results", len(payload.Data.Result)),
	)
	return payload.Data.Result, nil
}

// View fetches the video-info payload for bvid.
func (a *API) View(ctx context.Context, bvid string) (*ViewData, error) {
	params := url.Values{}
	params.Set("bvid", bvid)

	body, err := a.fetcher.Get(ctx, a.endpoints.View, params, a.videoHeaders(bvid))
	if err != nil {
		return nil, err
	}

	var payload viewEnvelope
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode view response for %s: %w", bvid, err)
	}
	if payload.Code != 0 {
		return nil, errors.NewAPIError(
			fmt.Sprintf("view rejected for %s: %s", bvid, payload.Message), a.endpoints.View, payload.Code)
	}
	if payload.Data == nil {
		return nil, errors.NewMissingFieldError("data")
	}
	return payload.Data, nil
}

// DanmakuXML downloads the raw comment list document for a comment stream.
func (a *API) DanmakuXML(ctx context.Context, cid int64, bvid string) ([]byte, error) {
	params := url.Values{}
	params.Set("oid", strconv.FormatInt(cid, 10))
	return a.fetcher.Get(ctx, a.endpoints.DanmakuList, params, a.videoHeaders(bvid))
}

func (a *API) videoHeaders(bvid string) map[string]string {
	return map[string]string{"Referer": a.endpoints.VideoPage + bvid}
}

// ParseDanmakuXML decodes a comment list document. Any record that does not
// parse fails the whole document.
func ParseDanmakuXML(body []byte, bvid string, cid int64) ([]domain.DanmakuRecord, error) {
	var doc danmakuDocument
	if err := xml.Unmarshal(stripControlChars(body), &doc); err != nil {
		return nil, errors.NewMalformedRecordError("invalid danmaku document", "", 0, err)
	}

	records := make([]domain.DanmakuRecord, 0, len(doc.Items))
	for _, node := range doc.Items {
		record, err := domain.ParseDanmakuAttributes(node.P, node.Text, bvid, cid)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// stripControlChars drops bytes XML 1.0 forbids; the comment list
// occasionally carries them inside comment bodies.
func stripControlChars(b []byte) []byte {
	return bytes.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, b)
}
