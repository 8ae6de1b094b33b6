package crawler

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/internal/service/bilibili"
	"github.com/kapu/bilibili-danmaku-go/internal/service/cache"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"go.uber.org/zap"
)

// fakeAPI serves search pages per keyword and synthesizes view and danmaku
// payloads for any bvid. It is safe for concurrent use.
type fakeAPI struct {
	pages       map[string][][]string // keyword -> pages of bvids
	searchErr   map[string]error
	viewErr     map[string]error
	danmakuErr  map[string]error
	danmakuBody map[string]string
	noCID       map[string]bool
	viewDelay   time.Duration

	mu          sync.Mutex
	searchCalls map[string][]int
	viewCalls   map[string]int

	inFlight    int32
	maxInFlight int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:       map[string][][]string{},
		searchErr:   map[string]error{},
		viewErr:     map[string]error{},
		danmakuErr:  map[string]error{},
		danmakuBody: map[string]string{},
		noCID:       map[string]bool{},
		searchCalls: map[string][]int{},
		viewCalls:   map[string]int{},
	}
}

func (f *fakeAPI) Search(_ context.Context, keyword string, page int) ([]bilibili.SearchHit, error) {
	f.mu.Lock()
	f.searchCalls[keyword] = append(f.searchCalls[keyword], page)
	f.mu.Unlock()

	if err := f.searchErr[keyword]; err != nil {
		return nil, err
	}
	pages := f.pages[keyword]
	if page > len(pages) {
		return []bilibili.SearchHit{}, nil
	}
	hits := make([]bilibili.SearchHit, 0, len(pages[page-1]))
	for _, bvid := range pages[page-1] {
		hits = append(hits, bilibili.SearchHit{BVID: bvid, Title: `<em class="keyword">` + keyword + `</em> ` + bvid})
	}
	return hits, nil
}

func (f *fakeAPI) View(_ context.Context, bvid string) (*bilibili.ViewData, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if current <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, current) {
			break
		}
	}

	f.mu.Lock()
	f.viewCalls[bvid]++
	cid := int64(1000 + len(f.viewCalls))
	f.mu.Unlock()

	if f.viewDelay > 0 {
		time.Sleep(f.viewDelay)
	}
	if err := f.viewErr[bvid]; err != nil {
		return nil, err
	}

	aid := int64(len(bvid))
	id := bvid
	title := "title " + bvid
	view := &bilibili.ViewData{AID: &aid, BVID: &id, CID: &cid, Title: &title}
	if f.noCID[bvid] {
		view.CID = nil
	}
	return view, nil
}

func (f *fakeAPI) DanmakuXML(_ context.Context, _ int64, bvid string) ([]byte, error) {
	if err := f.danmakuErr[bvid]; err != nil {
		return nil, err
	}
	if body, ok := f.danmakuBody[bvid]; ok {
		return []byte(body), nil
	}
	return []byte(`<i><d p="1.5,1,25,16777215,1700000000,abc,0">` + bvid + `</d><d p="2,1,25,0,1700000001,,0">ok</d></i>`), nil
}

func (f *fakeAPI) viewCount(bvid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewCalls[bvid]
}

func bvids(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + strconv.Itoa(i)
	}
	return out
}

func byBVID(bundles []*domain.VideoDanmakuBundle) map[string]*domain.VideoDanmakuBundle {
	m := make(map[string]*domain.VideoDanmakuBundle, len(bundles))
	for _, b := range bundles {
		m[b.Video.BVID] = b
	}
	return m
}

func TestCrawlDeduplicatesAcrossKeywords(t *testing.T) {
	api := newFakeAPI()
	api.pages["大模型"] = [][]string{{"BV1", "BV2"}}
	api.pages["LLM"] = [][]string{{"BV2", "BV3"}}

	c := NewCrawler(api, nil, Config{Concurrency: 2}, zap.NewNop())
	bundles, summary, err := c.CrawlWithSummary(context.Background(), []string{"大模型", "LLM"}, 4)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(bundles) != 3 || summary.Discovered != 3 || summary.Fetched != 3 {
		t.Fatalf("bundles = %d, summary = %+v", len(bundles), summary)
	}
	if api.viewCount("BV2") != 1 {
		t.Fatalf("BV2 fetched %d times", api.viewCount("BV2"))
	}

	got := byBVID(bundles)
	wantRank := map[string]int{"BV1": 1, "BV2": 2, "BV3": 3}
	wantKeyword := map[string]string{"BV1": "大模型", "BV2": "大模型", "BV3": "LLM"}
	for bvid, rank := range wantRank {
		b := got[bvid]
		if b == nil {
			t.Fatalf("missing bundle %s", bvid)
		}
		if b.Video.Rank() != rank || b.Video.Keyword != wantKeyword[bvid] {
			t.Fatalf("%s: rank %d keyword %q", bvid, b.Video.Rank(), b.Video.Keyword)
		}
		if len(b.Danmaku) != 2 || b.Danmaku[0].Content != bvid {
			t.Fatalf("%s: danmaku = %+v", bvid, b.Danmaku)
		}
	}
}

func TestDiscoverPerKeywordShare(t *testing.T) {
	api := newFakeAPI()
	api.pages["a"] = [][]string{bvids(3, "A"), bvids(3, "A1")}
	api.pages["b"] = [][]string{bvids(5, "B")}

	c := NewCrawler(api, nil, Config{}, zap.NewNop())
	targets, err := c.Discover(context.Background(), []string{"a", "b"}, 9)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	// 9 / 2 = 4 per keyword
	var got []string
	for _, tgt := range targets {
		got = append(got, tgt.BVID)
	}
	want := []string{"A0", "A1", "A2", "A10", "B0", "B1", "B2", "B3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
	for i, tgt := range targets {
		if tgt.Rank != i+1 {
			t.Fatalf("target %d rank = %d", i, tgt.Rank)
		}
	}
	if targets[0].Title != "a A0" {
		t.Fatalf("title should drop highlight markup: %q", targets[0].Title)
	}
}

func TestDiscoverMinimumShare(t *testing.T) {
	api := newFakeAPI()
	for _, k := range []string{"a", "b", "c"} {
		api.pages[k] = [][]string{bvids(3, k)}
	}
	c := NewCrawler(api, nil, Config{}, zap.NewNop())
	targets, err := c.Discover(context.Background(), []string{"a", "b", "c"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 3 {
		t.Fatalf("each keyword should contribute at least one video, got %d", len(targets))
	}
}

func TestDiscoverEmptyPageStopsPagination(t *testing.T) {
	api := newFakeAPI()
	api.pages["LLM"] = [][]string{{"BV1", "BV2"}, {}, {"BV3"}}

	c := NewCrawler(api, nil, Config{}, zap.NewNop())
	targets, err := c.Discover(context.Background(), []string{"LLM"}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %+v", targets)
	}
	if diff := cmp.Diff([]int{1, 2}, api.searchCalls["LLM"]); diff != "" {
		t.Fatalf("search pages mismatch:\n%s", diff)
	}
}

func TestDiscoverPageCeiling(t *testing.T) {
	api := newFakeAPI()
	api.pages["LLM"] = [][]string{{"BV1"}, {"BV2"}, {"BV3"}, {"BV4"}}

	c := NewCrawler(api, nil, Config{PagesPerKeyword: 2}, zap.NewNop())
	targets, err := c.Discover(context.Background(), []string{"LLM"}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %+v", targets)
	}
	if diff := cmp.Diff([]int{1, 2}, api.searchCalls["LLM"]); diff != "" {
		t.Fatalf("search pages mismatch:\n%s", diff)
	}
}

func TestCrawlSearchFailureAborts(t *testing.T) {
	api := newFakeAPI()
	api.pages["a"] = [][]string{{"BV1"}}
	api.searchErr["b"] = errors.NewRequestError("search", nil, 3, errors.NewHTTPStatusError(412, "search?keyword=b"))

	c := NewCrawler(api, nil, Config{Concurrency: 2}, zap.NewNop())
	bundles, err := c.Crawl(context.Background(), []string{"a", "b"}, 10)
	if err == nil {
		t.Fatal("expected search failure to abort the crawl")
	}
	if !errors.IsRateLimited(err) {
		t.Fatalf("412 must stay visible to the caller: %v", err)
	}
	if bundles != nil {
		t.Fatalf("bundles = %v", bundles)
	}
	if api.viewCount("BV1") != 0 {
		t.Fatal("no unit may run after a search failure")
	}
}

func TestCrawlUnitFailureDoesNotStopSiblings(t *testing.T) {
	api := newFakeAPI()
	api.pages["LLM"] = [][]string{{"BV1", "BVbad", "BV3", "BVnocid"}}
	api.viewErr["BVbad"] = errors.NewRequestError("view", nil, 3, errors.NewTransportError("view", errors.New("reset")))
	api.danmakuBody["BV3"] = `<i><d p="1,2">short</d></i>`
	api.noCID["BVnocid"] = true

	c := NewCrawler(api, nil, Config{Concurrency: 2}, zap.NewNop())

	results := map[string]Result{}
	targets, err := c.Discover(context.Background(), []string{"LLM"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	for res := range c.Run(context.Background(), targets) {
		results[res.Target.BVID] = res
	}

	if len(results) != 4 {
		t.Fatalf("expected a result per target, got %d", len(results))
	}
	if results["BV1"].Err != nil || results["BV1"].Bundle == nil {
		t.Fatalf("BV1 should succeed: %+v", results["BV1"])
	}
	var reqErr *errors.RequestError
	if !errors.As(results["BVbad"].Err, &reqErr) {
		t.Fatalf("BVbad error = %v", results["BVbad"].Err)
	}
	var malformed *errors.MalformedRecordError
	if !errors.As(results["BV3"].Err, &malformed) {
		t.Fatalf("BV3 error = %v", results["BV3"].Err)
	}
	var missing *errors.MissingFieldError
	if !errors.As(results["BVnocid"].Err, &missing) || missing.Field != "cid" {
		t.Fatalf("BVnocid error = %v", results["BVnocid"].Err)
	}

	bundles, summary, err := c.CrawlWithSummary(context.Background(), []string{"LLM"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bundles) != 1 || summary.Failed != 3 {
		t.Fatalf("bundles = %d, summary = %+v", len(bundles), summary)
	}
}

func TestCrawlDanmakuFailureYieldsEmptyBundle(t *testing.T) {
	api := newFakeAPI()
	api.pages["LLM"] = [][]string{{"BV1"}}
	api.danmakuErr["BV1"] = errors.NewRequestError("dm", nil, 3, errors.NewHTTPStatusError(500, "dm"))

	c := NewCrawler(api, nil, Config{}, zap.NewNop())
	bundles, err := c.Crawl(context.Background(), []string{"LLM"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(bundles) != 1 || len(bundles[0].Danmaku) != 0 || bundles[0].Danmaku == nil {
		t.Fatalf("bundles = %+v", bundles)
	}
}

func TestRunConcurrencyCeiling(t *testing.T) {
	for _, limit := range []int{1, 3} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			api := newFakeAPI()
			api.viewDelay = 15 * time.Millisecond

			targets := make([]Target, 12)
			for i := range targets {
				targets[i] = Target{BVID: fmt.Sprintf("BV%02d", i), Keyword: "LLM", Rank: i + 1}
			}

			c := NewCrawler(api, nil, Config{Concurrency: limit}, zap.NewNop())
			count := 0
			for res := range c.Run(context.Background(), targets) {
				if res.Err != nil {
					t.Fatalf("unexpected error %v", res.Err)
				}
				count++
			}
			if count != len(targets) {
				t.Fatalf("results = %d", count)
			}
			if got := atomic.LoadInt32(&api.maxInFlight); got > int32(limit) || got < 1 {
				t.Fatalf("max in flight = %d, limit %d", got, limit)
			}
		})
	}
}

func TestCrawlRejectsUnsafeBVID(t *testing.T) {
	root := t.TempDir()
	store := cache.NewFileStore(filepath.Join(root, "raw"), zap.NewNop())

	api := newFakeAPI()
	api.pages["LLM"] = [][]string{{"BV1", "../BVescape"}}

	c := NewCrawler(api, store, Config{Concurrency: 2, EnableCache: true}, zap.NewNop())
	targets, err := c.Discover(context.Background(), []string{"LLM"}, 2)
	if err != nil {
		t.Fatal(err)
	}

	results := map[string]Result{}
	for res := range c.Run(context.Background(), targets) {
		results[res.Target.BVID] = res
	}
	if results["BV1"].Err != nil || results["BV1"].Bundle == nil {
		t.Fatalf("BV1 should succeed: %+v", results["BV1"])
	}
	var validation *errors.ValidationError
	if !errors.As(results["../BVescape"].Err, &validation) {
		t.Fatalf("unsafe bvid error = %v", results["../BVescape"].Err)
	}
	if api.viewCount("../BVescape") != 0 {
		t.Fatal("unsafe bvid must not reach the view endpoint")
	}
	if matches, _ := filepath.Glob(filepath.Join(root, "*.json")); len(matches) != 0 {
		t.Fatalf("bundle written outside the store directory: %v", matches)
	}
}

func TestCrawlCacheShortCircuit(t *testing.T) {
	store := cache.NewFileStore(filepath.Join(t.TempDir(), "raw"), zap.NewNop())
	rank := 1
	hash := "feed"
	cachedBundle := domain.NewBundle(domain.VideoMetadata{
		AID: 1, BVID: "BVcached", CID: 9, Title: "cached", Keyword: "old", RankingIndex: &rank,
	}, []domain.DanmakuRecord{{
		VideoBVID: "BVcached", VideoCID: 9, Content: "from disk",
		SendTime: time.Unix(1700000000, 0).UTC(), Mode: 1, FontSize: 25, AuthorHash: &hash,
	}})
	if err := store.Save(context.Background(), cachedBundle); err != nil {
		t.Fatal(err)
	}

	api := newFakeAPI()
	api.pages["LLM"] = [][]string{{"BVcached", "BVfresh"}}

	c := NewCrawler(api, store, Config{Concurrency: 2, EnableCache: true}, zap.NewNop())
	bundles, summary, err := c.CrawlWithSummary(context.Background(), []string{"LLM"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Cached != 1 || summary.Fetched != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if api.viewCount("BVcached") != 0 {
		t.Fatal("cached video must not hit the network")
	}

	got := byBVID(bundles)
	if diff := cmp.Diff(cachedBundle, got["BVcached"]); diff != "" {
		t.Fatalf("cached bundle mismatch (-want +got):\n%s", diff)
	}

	exists, err := store.Exists(context.Background(), "BVfresh")
	if err != nil || !exists {
		t.Fatalf("fresh bundle should be persisted: %v %v", exists, err)
	}

	// second run: everything comes from the cache
	bundles, summary, err = c.CrawlWithSummary(context.Background(), []string{"LLM"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Cached != 2 || len(bundles) != 2 || api.viewCount("BVfresh") != 1 {
		t.Fatalf("summary = %+v, fresh views = %d", summary, api.viewCount("BVfresh"))
	}
}

func TestCrawlCacheDisabledRefetches(t *testing.T) {
	store := cache.NewFileStore(t.TempDir(), zap.NewNop())
	if err := store.Save(context.Background(), domain.NewBundle(domain.VideoMetadata{BVID: "BV1"}, nil)); err != nil {
		t.Fatal(err)
	}

	api := newFakeAPI()
	api.pages["LLM"] = [][]string{{"BV1"}}
	c := NewCrawler(api, store, Config{EnableCache: false}, zap.NewNop())
	if _, err := c.Crawl(context.Background(), []string{"LLM"}, 1); err != nil {
		t.Fatal(err)
	}
	if api.viewCount("BV1") != 1 {
		t.Fatal("disabled cache must fetch from the network")
	}
}
