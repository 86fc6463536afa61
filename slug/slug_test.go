package slug

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Hello World", "hello-world"},
		{"accents", "Café Müller", "cafe-muller"},
		{"underscores", "some_file_name", "some-file-name"},
		{"punctuation", "kim, chul-soo!", "kim-chul-soo"},
		{"collapse hyphens", "a -- b", "a-b"},
		{"hangul drops out", "김철수", ""},
		{"mixed keeps ascii", "김철수 kim", "kim"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Generate(tt.in); got != tt.want {
				t.Errorf("Generate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateLength(t *testing.T) {
	long := strings.Repeat("abcde ", 40)
	got := Generate(long)
	if len(got) > 80 {
		t.Errorf("slug length %d exceeds cap", len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("truncated slug must not end with a hyphen: %q", got)
	}
}

func TestKeywordKey(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		osToken string
		want    string
	}{
		{"ascii keyword", "Kim Chulsoo", "123", "kim-chulsoo"},
		{"hangul falls back to token", "김철수", "123456", "person-123456"},
		{"no keyword", "", "77", "person-77"},
		{"nothing usable", "김철수", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeywordKey(tt.keyword, tt.osToken); got != tt.want {
				t.Errorf("KeywordKey(%q, %q) = %q, want %q", tt.keyword, tt.osToken, got, tt.want)
			}
		})
	}
}
