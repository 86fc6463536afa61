package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const profilePage = `<html><head>
<script type="application/ld+json">
{"@type":"Person","name":"김철수","image":"https://img.example.com/kim.jpg"}
</script>
</head><body>
<div class="detail_info"><dl><dt>출생</dt><dd>1990년 1월 1일</dd></dl></div>
</body></html>`

const emptyPage = `<html><body><p>검색결과가 없습니다</p></body></html>`

// newPortal builds a fake search portal and a resolver pointed at it.
// The handler receives the full request so scenarios can dispatch on
// path and query parameters.
func newPortal(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Resolver, *recordingSleep) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.MaxRetries = 1
	config.SearchURL = server.URL + "/search.naver"
	config.PeopleSearchURL = server.URL + "/people/search.naver"

	r, rs := newFastResolver(t, config)
	return server, r, rs
}

func TestResolveDirect(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("os") == "123456" {
			w.Write([]byte(profilePage))
			return
		}
		w.Write([]byte(emptyPage))
	})

	report := r.ResolveAll(context.Background(), []string{
		server.URL + "/search.naver?where=nexearch&query=%EA%B9%80%EC%B2%A0%EC%88%98&os=123456",
	})

	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	res := report.Results[0]
	if res.Os != "123456" {
		t.Errorf("expected os 123456, got %q", res.Os)
	}
	if res.OsSource != "NAVER" {
		t.Errorf("expected source NAVER, got %q", res.OsSource)
	}
	if res.NaverName != "김철수" || res.Keyword != "김철수" {
		t.Errorf("expected resolved name as keyword, got name=%q keyword=%q", res.NaverName, res.Keyword)
	}
	if res.NaverImage != "https://img.example.com/kim.jpg" {
		t.Errorf("unexpected image %q", res.NaverImage)
	}
	if got := res.NaverInfo.Get("출생"); got != "1990년 1월 1일" {
		t.Errorf("expected attribute pair, got %q", got)
	}
	if report.ID == "" {
		t.Error("expected a report ID")
	}
}

func TestResolveViaAnchor(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Query().Get("os") == "999":
			if req.Header.Get("Referer") == "" {
				t.Error("anchor follow must carry a referer")
			}
			w.Write([]byte(`<html><body>
				<h2 class="title">이영희</h2>
				<dl><dt>신체</dt><dd>170cm</dd></dl>
			</body></html>`))
		case req.URL.Query().Get("query") == "김철수":
			w.Write([]byte(`<html><body><div id="main_pack">
				<a href="/search.naver?where=nexearch&query=kim&os=999">프로필</a>
			</div></body></html>`))
		default:
			w.Write([]byte(emptyPage))
		}
	})

	report := r.ResolveAll(context.Background(), []string{
		server.URL + "/search.naver?where=nexearch&query=%EA%B9%80%EC%B2%A0%EC%88%98",
	})

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d (errors: %v)", len(report.Results), report.Errors)
	}
	res := report.Results[0]
	if res.Os != "999" {
		t.Errorf("expected os recovered from followed URL, got %q", res.Os)
	}
	if res.NaverName != "이영희" {
		t.Errorf("expected name from followed page, got %q", res.NaverName)
	}
	if got := res.NaverInfo.Get("신체"); got != "170cm" {
		t.Errorf("expected attribute from followed page, got %q", got)
	}
	if !strings.Contains(res.ProfileURL, "os=999") {
		t.Errorf("profile URL must be the followed URL, got %q", res.ProfileURL)
	}
}

func TestResolveOsFromInlineScript(t *testing.T) {
	// The followed page carries the os token only inside a script blob.
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/start":
			w.Write([]byte(`<html><body><div id="main_pack">
				<a href="/detail">인물정보</a>
			</div></body></html>`))
		case "/detail":
			w.Write([]byte(`<html><body>
				<script>var profileLink = "/search.naver?where=nexearch&os=424242";</script>
				<h2 class="title">박민수</h2>
			</body></html>`))
		default:
			w.Write([]byte(emptyPage))
		}
	})

	report := r.ResolveAll(context.Background(), []string{server.URL + "/start"})

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d (errors: %v)", len(report.Results), report.Errors)
	}
	if got := report.Results[0].Os; got != "424242" {
		t.Errorf("expected os recovered from inline script, got %q", got)
	}
}

func TestResolveViaRequery(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query().Get("query")
		switch {
		case req.URL.Query().Get("os") == "777":
			w.Write([]byte(profilePage))
		case q == "김철수 프로필":
			// Only the reformulated query surfaces the anchor.
			w.Write([]byte(`<html><body><div id="main_pack">
				<a href="/search.naver?where=nexearch&os=777">프로필</a>
			</div></body></html>`))
		default:
			w.Write([]byte(emptyPage))
		}
	})

	report := r.ResolveAll(context.Background(), []string{
		server.URL + "/search.naver?where=nexearch&query=%EA%B9%80%EC%B2%A0%EC%88%98",
	})

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d (errors: %v)", len(report.Results), report.Errors)
	}
	if got := report.Results[0].Os; got != "777" {
		t.Errorf("expected os from requery tier, got %q", got)
	}
}

func TestResolveViaPeopleSearch(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query().Get("query")
		switch {
		case req.URL.Query().Get("os") == "555":
			w.Write([]byte(profilePage))
		case strings.HasPrefix(req.URL.Path, "/people/") && q == "김철수 배우":
			// Only the occupation-hinted people search finds the person.
			w.Write([]byte(`<html><body>
				<a href="/search.naver?where=nexearch&os=555">프로필</a>
			</body></html>`))
		default:
			w.Write([]byte(emptyPage))
		}
	})

	report := r.ResolveAll(context.Background(), []string{
		server.URL + "/search.naver?where=nexearch&query=%EA%B9%80%EC%B2%A0%EC%88%98",
	})

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d (errors: %v)", len(report.Results), report.Errors)
	}
	if got := report.Results[0].Os; got != "555" {
		t.Errorf("expected os from people search tier, got %q", got)
	}
}

func TestResolveDegradedResult(t *testing.T) {
	// The os token is present but every page is empty: the cascade ends
	// with an unfilled record rather than an error.
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(emptyPage))
	})

	report := r.ResolveAll(context.Background(), []string{
		server.URL + "/search.naver?where=nexearch&query=kim&os=31337",
	})

	if len(report.Errors) != 0 {
		t.Fatalf("degraded resolution must not produce errors: %v", report.Errors)
	}
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 degraded result, got %d", len(report.Results))
	}
	res := report.Results[0]
	if res.Os != "31337" {
		t.Errorf("expected os preserved, got %q", res.Os)
	}
	if res.NaverName != "" || res.NaverImage != "" {
		t.Errorf("expected unfilled record, got name=%q image=%q", res.NaverName, res.NaverImage)
	}
}

func TestResolveNoOsNoQuery(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(emptyPage))
	})

	report := r.ResolveAll(context.Background(), []string{server.URL + "/plain"})

	if len(report.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(report.Results))
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "os token extraction failed") {
		t.Errorf("expected os extraction error entry, got %v", report.Errors)
	}
}

func TestResolveFetchFailureWithOs(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	report := r.ResolveAll(context.Background(), []string{server.URL + "/search.naver?os=1"})

	if len(report.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(report.Results))
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "profile parse failed") {
		t.Errorf("expected parse failure entry, got %v", report.Errors)
	}
}

func TestResolveAllSkipsBlankURLs(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(profilePage))
	})

	report := r.ResolveAll(context.Background(), []string{
		"",
		"   ",
		server.URL + "/search.naver?os=42",
	})

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	if len(report.Errors) != 0 {
		t.Errorf("blank URLs must be skipped silently, got %v", report.Errors)
	}
}

func TestResolveAllPacesBetweenURLs(t *testing.T) {
	server, r, rs := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(profilePage))
	})

	r.ResolveAll(context.Background(), []string{
		server.URL + "/search.naver?os=1",
		server.URL + "/search.naver?os=2",
		server.URL + "/search.naver?os=3",
	})

	// One pacing pause between consecutive URLs, none before the first.
	if len(rs.delays) != 2 {
		t.Fatalf("expected 2 pacing pauses, got %v", rs.delays)
	}
	for _, d := range rs.delays {
		if d < 200*time.Millisecond || d > 500*time.Millisecond {
			t.Errorf("pacing pause %v outside [200ms, 500ms]", d)
		}
	}
}

func TestResolveAllParallelPreservesOrder(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		os := req.URL.Query().Get("os")
		w.Write([]byte(`<html><body><h2 class="title">인물` + os + `</h2></body></html>`))
	})

	urls := []string{
		server.URL + "/search.naver?os=1",
		server.URL + "/search.naver?os=2",
		server.URL + "/search.naver?os=3",
		server.URL + "/search.naver?os=4",
	}
	report := r.ResolveAllParallel(context.Background(), urls, 4)

	if len(report.Results) != 4 {
		t.Fatalf("expected 4 results, got %d (errors: %v)", len(report.Results), report.Errors)
	}
	for i, res := range report.Results {
		want := []string{"1", "2", "3", "4"}[i]
		if res.Os != want {
			t.Errorf("result %d: expected os %q, got %q", i, want, res.Os)
		}
	}
	if report.Elapsed < 0 {
		t.Error("expected non-negative elapsed time")
	}
}

func TestResolveAllParallelSingleWorkerFallsBack(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(profilePage))
	})

	report := r.ResolveAllParallel(context.Background(), []string{server.URL + "/search.naver?os=7"}, 1)
	if len(report.Results) != 1 {
		t.Fatalf("expected sequential fallback to resolve, got %d results", len(report.Results))
	}
}

func TestResolveAllContextCancellation(t *testing.T) {
	server, r, _ := newPortal(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(profilePage))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := r.ResolveAll(ctx, []string{
		server.URL + "/search.naver?os=1",
		server.URL + "/search.naver?os=2",
	})
	// A cancelled batch still returns a well-formed report.
	if report == nil || report.Results == nil || report.Errors == nil {
		t.Fatal("expected a well-formed report under cancellation")
	}
}

func TestPaceDelayBounds(t *testing.T) {
	r := New(DefaultConfig())
	for i := 0; i < 100; i++ {
		d := r.paceDelay()
		if d < 200*time.Millisecond || d > 500*time.Millisecond {
			t.Fatalf("paceDelay() = %v outside configured bounds", d)
		}
	}
}

func TestNewBackfillsZeroConfig(t *testing.T) {
	r := New(Config{})
	def := DefaultConfig()
	if r.config.HTTPTimeout != def.HTTPTimeout {
		t.Errorf("expected default timeout, got %v", r.config.HTTPTimeout)
	}
	if r.config.SearchURL != def.SearchURL {
		t.Errorf("expected default search URL, got %q", r.config.SearchURL)
	}
	if len(r.config.RequerySuffixes) != 2 {
		t.Errorf("expected default suffixes, got %v", r.config.RequerySuffixes)
	}
}
