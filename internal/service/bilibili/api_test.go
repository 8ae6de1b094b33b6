package bilibili

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	body  []byte
	err   error
	calls []fetchCall
}

type fetchCall struct {
	endpoint string
	params   url.Values
	headers  map[string]string
}

func (f *fakeFetcher) Get(_ context.Context, endpoint string, params url.Values, headers map[string]string) ([]byte, error) {
	f.calls = append(f.calls, fetchCall{endpoint: endpoint, params: params, headers: headers})
	return f.body, f.err
}

func TestSearchBuildsQueryAndDecodes(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{"code":0,"message":"0","data":{"page":2,"result":[
		{"bvid":"BV1a","aid":1,"title":"<em class=\"keyword\">LLM</em> 入门 &amp; 实战","author":"up"},
		{"bvid":"BV1b","aid":2,"title":"plain"}]}}`)}
	api := NewAPI(fetcher, DefaultEndpoints(), "", zap.NewNop())

	hits, err := api.Search(context.Background(), "LLM", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 || hits[0].BVID != "BV1a" || hits[1].BVID != "BV1b" {
		t.Fatalf("hits = %+v", hits)
	}
	if got := hits[0].PlainTitle(); got != "LLM 入门 & 实战" {
		t.Fatalf("PlainTitle() = %q", got)
	}
	if got := hits[1].PlainTitle(); got != "plain" {
		t.Fatalf("PlainTitle() = %q", got)
	}

	call := fetcher.calls[0]
	if call.endpoint != "https://api.bilibili.com/x/web-interface/search/type" {
		t.Fatalf("endpoint = %s", call.endpoint)
	}
	want := url.Values{"search_type": {"video"}, "keyword": {"LLM"}, "page": {"2"}, "order": {"totalrank"}}
	if call.params.Encode() != want.Encode() {
		t.Fatalf("params = %s, want %s", call.params.Encode(), want.Encode())
	}
}

func TestSearchEmptyPage(t *testing.T) {
	for _, body := range []string{`{"code":0,"data":{"result":[]}}`, `{"code":0,"data":null}`, `{"code":0,"data":{}}`} {
		api := NewAPI(&fakeFetcher{body: []byte(body)}, DefaultEndpoints(), "totalrank", zap.NewNop())
		hits, err := api.Search(context.Background(), "LLM", 3)
		if err != nil {
			t.Fatalf("body %s: %v", body, err)
		}
		if len(hits) != 0 {
			t.Fatalf("body %s: hits = %v", body, hits)
		}
	}
}

func TestSearchUpstreamRiskControl(t *testing.T) {
	api := NewAPI(&fakeFetcher{body: []byte(`{"code":-412,"message":"request was banned"}`)}, DefaultEndpoints(), "", zap.NewNop())
	_, err := api.Search(context.Background(), "LLM", 1)
	if !errors.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestViewUsesVideoReferer(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{"code":0,"data":{"aid":9,"bvid":"BV1xx","cid":77,"title":"t"}}`)}
	api := NewAPI(fetcher, DefaultEndpoints(), "", zap.NewNop())

	view, err := api.View(context.Background(), "BV1xx")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if *view.CID != 77 {
		t.Fatalf("cid = %d", *view.CID)
	}
	if got := fetcher.calls[0].headers["Referer"]; got != "https://www.bilibili.com/video/BV1xx" {
		t.Fatalf("Referer = %q", got)
	}
	if fetcher.calls[0].params.Get("bvid") != "BV1xx" {
		t.Fatalf("params = %v", fetcher.calls[0].params)
	}
}

func TestViewMissingData(t *testing.T) {
	api := NewAPI(&fakeFetcher{body: []byte(`{"code":0,"data":null}`)}, DefaultEndpoints(), "", zap.NewNop())
	_, err := api.View(context.Background(), "BV1")
	var missing *errors.MissingFieldError
	if !errors.As(err, &missing) || missing.Field != "data" {
		t.Fatalf("expected missing data error, got %v", err)
	}
}

func TestViewDecodeErrorIsNotRetryable(t *testing.T) {
	api := NewAPI(&fakeFetcher{body: []byte(`<html>`)}, DefaultEndpoints(), "", zap.NewNop())
	_, err := api.View(context.Background(), "BV1")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.IsRetryable(err) {
		t.Fatalf("decode errors must not be retryable: %v", err)
	}
}

func TestDanmakuXMLRequest(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`<i></i>`)}
	api := NewAPI(fetcher, DefaultEndpoints(), "", zap.NewNop())
	if _, err := api.DanmakuXML(context.Background(), 12345, "BV1"); err != nil {
		t.Fatal(err)
	}
	call := fetcher.calls[0]
	if call.endpoint != "https://api.bilibili.com/x/v1/dm/list.so" || call.params.Get("oid") != "12345" {
		t.Fatalf("call = %+v", call)
	}
}

func TestParseDanmakuXML(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<i>
	<chatserver>chat.bilibili.com</chatserver>
	<chatid>77</chatid>
	<d p="12.5,1,25,16777215,1700000000,abcd1234,0,5">hello</d>
	<d p="3,5,25,255,1700000100,,1">大模型 &amp; LLM` + "\x08" + `</d>
	<d p="4,1,25,255,1700000200,ff,0"></d>
</i>`)

	records, err := ParseDanmakuXML(body, "BV1", 77)
	if err != nil {
		t.Fatalf("ParseDanmakuXML() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].Content != "hello" || records[0].AppearTime != 12.5 {
		t.Fatalf("first record = %+v", records[0])
	}
	if records[1].Content != "大模型 & LLM" || records[1].AuthorHash != nil {
		t.Fatalf("second record = %+v", records[1])
	}
	if records[2].Content != "" {
		t.Fatalf("third record content = %q", records[2].Content)
	}
	for _, r := range records {
		if r.VideoBVID != "BV1" || r.VideoCID != 77 {
			t.Fatalf("record ownership = %s/%d", r.VideoBVID, r.VideoCID)
		}
	}
}

func TestParseDanmakuXMLMalformed(t *testing.T) {
	_, err := ParseDanmakuXML([]byte(`<i><d p="1,2,3">short</d></i>`), "BV1", 1)
	var malformed *errors.MalformedRecordError
	if !errors.As(err, &malformed) || malformed.FieldCount != 3 {
		t.Fatalf("expected malformed record, got %v", err)
	}

	if _, err := ParseDanmakuXML([]byte(`not xml <`), "BV1", 1); !errors.As(err, &malformed) {
		t.Fatalf("expected malformed document, got %v", err)
	}
}

func TestAPIAgainstClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/view":
			_, _ = w.Write([]byte(`{"code":0,"data":{"aid":1,"bvid":"BV1","cid":5}}`))
		case "/dm":
			_, _ = w.Write([]byte(`<i><d p="1,1,25,0,1700000000,h,0">x</d></i>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.Client(), ClientConfig{MaxAttempts: 1}, zap.NewNop())
	api := NewAPI(client, Endpoints{
		View:        server.URL + "/view",
		DanmakuList: server.URL + "/dm",
		VideoPage:   server.URL + "/video/",
	}, "", zap.NewNop())

	view, err := api.View(context.Background(), "BV1")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	cid, err := ResolveCID(view)
	if err != nil || cid != 5 {
		t.Fatalf("ResolveCID() = %d, %v", cid, err)
	}
	body, err := api.DanmakuXML(context.Background(), cid, "BV1")
	if err != nil {
		t.Fatalf("DanmakuXML() error = %v", err)
	}
	records, err := ParseDanmakuXML(body, "BV1", cid)
	if err != nil || len(records) != 1 {
		t.Fatalf("ParseDanmakuXML() = %v, %v", records, err)
	}
}
