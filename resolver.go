// Package resolver turns portal search-result URLs for people into
// structured profile records. Each input URL runs through a cascade of
// strategies (direct parse, anchor following, query reformulation,
// people search) until one yields a usable profile; the caller always
// gets a well-formed report, never an unhandled failure.
package resolver

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/newshub/resolver/metrics"
	"github.com/newshub/resolver/models"
)

// osPattern matches the person identifier the portal threads through
// profile URLs and inline page scripts.
var osPattern = regexp.MustCompile(`[?&]os=(\d+)`)

// Cascade outcome labels, also used as metric values.
const (
	outcomeDirect       = "direct"
	outcomeAnchor       = "anchor"
	outcomeRequery      = "requery"
	outcomePeopleSearch = "people_search"
	outcomeDegraded     = "degraded"
	outcomeFailed       = "failed"
)

// Config contains resolver configuration.
type Config struct {
	HTTPTimeout    time.Duration // per fetch attempt
	MaxRetries     int           // fetch attempts per URL
	RetryBaseDelay time.Duration // backoff base, doubled per retry
	PaceMin        time.Duration // inter-URL pause lower bound
	PaceMax        time.Duration // inter-URL pause upper bound
	ImageTimeout   time.Duration // profile image download timeout
	MaxImageBytes  int64         // profile image size cap

	UserAgent      string
	AcceptLanguage string

	SearchURL       string   // general search endpoint
	PeopleSearchURL string   // person-search endpoint
	RequerySuffixes []string // disambiguating suffixes, priority order
	OccupationHint  string   // appended for the second people-search try

	Duplicates DuplicatePolicy
}

// DefaultConfig returns the production configuration for the portal.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:    10 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 600 * time.Millisecond,
		PaceMin:        200 * time.Millisecond,
		PaceMax:        500 * time.Millisecond,
		ImageTimeout:   15 * time.Second,
		MaxImageBytes:  10 * 1024 * 1024,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) " +
			"Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage:  "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
		SearchURL:       "https://search.naver.com/search.naver",
		PeopleSearchURL: "https://people.search.naver.com/search.naver",
		RequerySuffixes: []string{" 프로필", " 인물정보"},
		OccupationHint:  " 배우",
		Duplicates:      FirstNonBlankWins,
	}
}

// Resolver drives the resolution cascade. It is stateless across input
// URLs; a single instance is safe for concurrent use.
type Resolver struct {
	config     Config
	httpClient *http.Client

	// sleep is the delay policy for both retry backoff and inter-URL
	// pacing. Tests inject a recording no-op.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Resolver. Zero-valued config fields fall back to
// DefaultConfig values so partial configs stay usable.
func New(config Config) *Resolver {
	def := DefaultConfig()
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = def.HTTPTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.PaceMin <= 0 {
		config.PaceMin = def.PaceMin
	}
	if config.PaceMax < config.PaceMin {
		config.PaceMax = config.PaceMin
	}
	if config.ImageTimeout <= 0 {
		config.ImageTimeout = def.ImageTimeout
	}
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = def.MaxImageBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.AcceptLanguage == "" {
		config.AcceptLanguage = def.AcceptLanguage
	}
	if config.SearchURL == "" {
		config.SearchURL = def.SearchURL
	}
	if config.PeopleSearchURL == "" {
		config.PeopleSearchURL = def.PeopleSearchURL
	}
	if config.RequerySuffixes == nil {
		config.RequerySuffixes = def.RequerySuffixes
	}
	if config.OccupationHint == "" {
		config.OccupationHint = def.OccupationHint
	}

	return &Resolver{
		config: config,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sleep: sleepContext,
	}
}

// ResolveAll resolves a batch of input URLs sequentially, pausing
// briefly between URLs to avoid bursty traffic against the portal.
// Blank URLs are skipped. The returned report always has non-nil
// Results and Errors slices.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string) *models.Report {
	report := &models.Report{
		ID:        uuid.New().String(),
		Results:   []models.Result{},
		Errors:    []string{},
		StartedAt: time.Now(),
	}
	defer func() {
		report.Elapsed = time.Since(report.StartedAt).Seconds()
		if rec := recover(); rec != nil {
			log.Printf("unexpected failure during resolution batch: %v", rec)
			report.Errors = append(report.Errors, fmt.Sprintf("unhandled: %v", rec))
		}
	}()

	first := true
	for _, raw := range urls {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}
		if !first {
			// Inter-URL pacing, unrelated to retry backoff.
			if err := r.sleep(ctx, r.paceDelay()); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("URL: %s, Error: %v", target, err))
				return report
			}
		}
		first = false

		result, errEntry := r.resolveOne(ctx, target)
		if result != nil {
			report.Results = append(report.Results, *result)
		}
		if errEntry != "" {
			report.Errors = append(report.Errors, errEntry)
		}
		if ctx.Err() != nil {
			return report
		}
	}
	return report
}

// ResolveAllParallel resolves a batch with up to workers concurrent
// resolutions. A shared limiter keyed to the pacing floor preserves the
// per-host request pacing the sequential mode guarantees. Input order
// is preserved in the report.
func (r *Resolver) ResolveAllParallel(ctx context.Context, urls []string, workers int) *models.Report {
	if workers <= 1 {
		return r.ResolveAll(ctx, urls)
	}

	report := &models.Report{
		ID:        uuid.New().String(),
		Results:   []models.Result{},
		Errors:    []string{},
		StartedAt: time.Now(),
	}

	limiter := rate.NewLimiter(rate.Every(r.config.PaceMin), 1)
	results := make([]*models.Result, len(urls))
	errEntries := make([]string, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, raw := range urls {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				errEntries[i] = fmt.Sprintf("URL: %s, Error: %v", target, err)
				return nil
			}
			results[i], errEntries[i] = r.resolveOne(gctx, target)
			return nil
		})
	}
	g.Wait()

	for i := range urls {
		if results[i] != nil {
			report.Results = append(report.Results, *results[i])
		}
		if errEntries[i] != "" {
			report.Errors = append(report.Errors, errEntries[i])
		}
	}
	report.Elapsed = time.Since(report.StartedAt).Seconds()
	return report
}

// resolveOne walks one URL through the cascade. It returns the result
// to report (possibly an unfilled degraded one) and an error entry for
// the report's error list, at most one of which is non-empty except in
// the degraded tier.
func (r *Resolver) resolveOne(ctx context.Context, target string) (*models.Result, string) {
	start := time.Now()
	outcome := outcomeFailed
	defer func() {
		metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
		metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	}()

	log.Printf("resolving %s", target)

	osValue := ExtractOsToken(target)

	var direct *models.Result
	if osValue != "" {
		result, filled := r.tryParseDirect(ctx, target, osValue)
		if filled {
			outcome = outcomeDirect
			return result, ""
		}
		direct = result
	}

	if result, filled := r.tryParseViaAnchors(ctx, target); filled {
		outcome = outcomeAnchor
		return result, ""
	}
	if result, filled := r.tryRequery(ctx, target); filled {
		outcome = outcomeRequery
		return result, ""
	}
	if result, filled := r.tryPeopleSearch(ctx, target); filled {
		outcome = outcomePeopleSearch
		return result, ""
	}

	// Last resort: a direct parse that produced a record, even an
	// unfilled one, beats returning nothing.
	if direct != nil {
		outcome = outcomeDegraded
		return direct, ""
	}

	if osValue != "" {
		return nil, fmt.Sprintf("URL: %s, Error: profile parse failed", target)
	}
	return nil, fmt.Sprintf("URL: %s, Error: os token extraction failed", target)
}

// tryParseDirect fetches the URL itself and extracts a profile from it.
// The URL already carries the os token.
func (r *Resolver) tryParseDirect(ctx context.Context, target, osValue string) (*models.Result, bool) {
	html, err := r.fetchHTML(ctx, target, "")
	if err != nil {
		log.Printf("direct parse of %s failed: %v", target, err)
		return nil, false
	}
	p := r.extractProfile(html)
	return r.buildResult(osValue, target, p), p.Filled()
}

// tryParseViaAnchors fetches startURL, locates the profile anchor and
// then the show-more anchor, and follows each until one leads to a
// filled profile.
func (r *Resolver) tryParseViaAnchors(ctx context.Context, startURL string) (*models.Result, bool) {
	html, err := r.fetchHTML(ctx, startURL, "")
	if err != nil {
		log.Printf("anchor scan of %s failed: %v", startURL, err)
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}

	if href := findProfileAnchor(doc); href != "" {
		if result, filled := r.tryParseFromAnchor(ctx, startURL, href); filled {
			return result, true
		}
	}
	if href := findMoreAnchor(doc); href != "" {
		if result, filled := r.tryParseFromAnchor(ctx, startURL, href); filled {
			return result, true
		}
	}
	return nil, false
}

// tryParseFromAnchor resolves href against the page it was found on,
// fetches the target with a referer, recovers the os token from the new
// URL or the fetched HTML, and extracts a profile.
func (r *Resolver) tryParseFromAnchor(ctx context.Context, startURL, href string) (*models.Result, bool) {
	base, err := url.Parse(startURL)
	if err != nil {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	newURL := base.ResolveReference(ref).String()

	html, err := r.fetchHTML(ctx, newURL, startURL)
	if err != nil {
		log.Printf("anchor follow to %s failed: %v", newURL, err)
		return nil, false
	}

	osValue := ExtractOsToken(newURL)
	if osValue == "" {
		osValue = ExtractOsToken(html)
	}
	if osValue == "" {
		return nil, false
	}

	p := r.extractProfile(html)
	return r.buildResult(osValue, newURL, p), p.Filled()
}

// tryRequery reruns the search with each disambiguating suffix appended
// to the original query term, following anchors from each result page.
func (r *Resolver) tryRequery(ctx context.Context, originalURL string) (*models.Result, bool) {
	for _, reURL := range r.requeryURLs(originalURL) {
		if result, filled := r.tryParseViaAnchors(ctx, reURL); filled {
			return result, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
	}
	return nil, false
}

// tryPeopleSearch queries the person-search endpoint with the bare term
// and then with the occupation hint.
func (r *Resolver) tryPeopleSearch(ctx context.Context, originalURL string) (*models.Result, bool) {
	for _, peopleURL := range r.peopleSearchURLs(originalURL) {
		if result, filled := r.tryParseViaAnchors(ctx, peopleURL); filled {
			return result, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
	}
	return nil, false
}

// buildResult assembles the external record from an extracted profile.
// The resolved name doubles as the keyword for symmetry with callers
// that key caches by search term.
func (r *Resolver) buildResult(osValue, profileURL string, p *Profile) *models.Result {
	name := p.Name()
	return &models.Result{
		Os:         osValue,
		OsSource:   models.OsSourceNaver,
		ProfileURL: profileURL,
		Keyword:    name,
		NaverName:  name,
		NaverImage: p.Image(),
		NaverInfo:  p.Info(),
	}
}

// ExtractOsToken pulls the os token out of a URL or a blob of HTML
// using the same pattern for both.
func ExtractOsToken(s string) string {
	m := osPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// paceDelay picks a randomized inter-URL pause in [PaceMin, PaceMax].
func (r *Resolver) paceDelay() time.Duration {
	span := int64(r.config.PaceMax - r.config.PaceMin)
	if span <= 0 {
		return r.config.PaceMin
	}
	return r.config.PaceMin + time.Duration(rand.Int64N(span+1))
}
