// Command resolve runs the resolution pipeline over a batch of search
// result URLs and prints the report as JSON.
//
// URLs come from the command line, or from stdin one per line when no
// arguments are given. Blank lines and lines starting with # are skipped.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/newshub/resolver"
	"github.com/newshub/resolver/models"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "Per-request HTTP timeout")
	retries := flag.Int("retries", 3, "Fetch attempts per URL")
	parallel := flag.Int("parallel", 1, "Concurrent resolutions (1 = sequential)")
	occupation := flag.String("occupation-hint", "", "Occupation appended to the fallback people search query")
	pretty := flag.Bool("pretty", false, "Indent the JSON report")
	quiet := flag.Bool("quiet", false, "Suppress progress logging")
	flag.Parse()

	level := slog.LevelInfo
	if *quiet {
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	urls := flag.Args()
	if len(urls) == 0 {
		var err error
		urls, err = readURLs(os.Stdin)
		if err != nil {
			logger.Error("failed to read URLs from stdin", "error", err)
			os.Exit(1)
		}
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: resolve [flags] URL [URL...]  (or pipe URLs on stdin)")
		flag.PrintDefaults()
		os.Exit(2)
	}

	config := resolver.DefaultConfig()
	config.HTTPTimeout = *timeout
	config.MaxRetries = *retries
	if *occupation != "" {
		config.OccupationHint = *occupation
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := resolver.New(config)

	logger.Info("resolving batch", "urls", len(urls), "parallel", *parallel)
	start := time.Now()

	var report *models.Report
	if *parallel > 1 {
		report = r.ResolveAllParallel(ctx, urls, *parallel)
	} else {
		report = r.ResolveAll(ctx, urls)
	}

	logger.Info("batch finished", "elapsed", time.Since(start).String())

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		logger.Error("failed to encode report", "error", err)
		os.Exit(1)
	}
}

// readURLs reads one URL per line, skipping blanks and # comments.
func readURLs(f *os.File) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
