package resolver

import (
	"net/url"
	"testing"
)

func TestSearchKeyword(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			"encoded hangul",
			"https://search.naver.com/search.naver?where=nexearch&query=%EA%B9%80%EC%B2%A0%EC%88%98&os=123",
			"김철수",
		},
		{
			"plain term",
			"https://search.naver.com/search.naver?query=kim",
			"kim",
		},
		{"no query param", "https://search.naver.com/search.naver?os=123", ""},
		{"unparseable", "://not-a-url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchKeyword(tt.url); got != tt.want {
				t.Errorf("SearchKeyword(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestRequeryURLs(t *testing.T) {
	r := newTestResolver(t)
	urls := r.requeryURLs("https://search.naver.com/search.naver?query=%EA%B9%80%EC%B2%A0%EC%88%98")

	if len(urls) != 2 {
		t.Fatalf("expected one URL per suffix, got %d", len(urls))
	}
	for i, suffix := range []string{" 프로필", " 인물정보"} {
		u, err := url.Parse(urls[i])
		if err != nil {
			t.Fatalf("failed to parse requery URL: %v", err)
		}
		q := u.Query()
		if got := q.Get("query"); got != "김철수"+suffix {
			t.Errorf("expected query %q, got %q", "김철수"+suffix, got)
		}
		if q.Get("where") != "nexearch" || q.Get("sm") != "tab_etc" {
			t.Errorf("expected nexearch/tab_etc params, got %v", q)
		}
	}
}

func TestRequeryURLsWithoutQueryTerm(t *testing.T) {
	r := newTestResolver(t)
	if urls := r.requeryURLs("https://search.naver.com/search.naver?os=123"); urls != nil {
		t.Errorf("expected no requery URLs without a query term, got %v", urls)
	}
}

func TestPeopleSearchURLs(t *testing.T) {
	r := newTestResolver(t)
	urls := r.peopleSearchURLs("https://search.naver.com/search.naver?query=%EA%B9%80%EC%B2%A0%EC%88%98")

	if len(urls) != 2 {
		t.Fatalf("expected bare and hinted URLs, got %d", len(urls))
	}
	first, _ := url.Parse(urls[0])
	second, _ := url.Parse(urls[1])
	if got := first.Query().Get("query"); got != "김철수" {
		t.Errorf("expected bare term first, got %q", got)
	}
	if got := second.Query().Get("query"); got != "김철수 배우" {
		t.Errorf("expected occupation hint second, got %q", got)
	}
	if first.Host != "people.search.naver.com" {
		t.Errorf("expected people search host, got %q", first.Host)
	}
}

func TestExtractOsToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"query param", "https://search.naver.com/search.naver?query=kim&os=123456", "123456"},
		{"first param", "https://search.naver.com/search.naver?os=99&query=kim", "99"},
		{"html blob", `<script>var link = "search.naver?where=nexearch&os=777";</script>`, "777"},
		{"absent", "https://search.naver.com/search.naver?query=kim", ""},
		{"non-numeric", "https://search.naver.com/search.naver?os=abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractOsToken(tt.in); got != tt.want {
				t.Errorf("ExtractOsToken(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
