package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotabod/backend-sub002/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// ErrNoTokens is returned when the run has nobody to post as.
var ErrNoTokens = errors.New("no tokens configured")

type counters struct {
	matches, sent, accepted, unauthorized, failed atomic.Int64
}

// Run plays cfg.Matches scripted matches for every token and reports what
// the service answered.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if len(cfg.Tokens) == 0 {
		return nil, ErrNoTokens
	}
	log := logger.Named("simulate")
	stats := &Stats{StartTime: time.Now()}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting telemetry simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("tokens", len(cfg.Tokens)),
		logger.Int("matches", cfg.Matches),
		logger.Int("workers", cfg.Workers),
		logger.Duration("interval", cfg.Interval))

	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	var (
		c       counters
		mu      sync.Mutex
		scripts []Match
		wg      sync.WaitGroup
	)
	workers := max(1, min(cfg.Workers, len(cfg.Tokens)))
	tokens := make(chan string, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range tokens {
				token, accountID, _ := strings.Cut(entry, ":")
				for i := 0; i < cfg.Matches && ctx.Err() == nil; i++ {
					m := RandomMatch(token, accountID)
					mu.Lock()
					scripts = append(scripts, m)
					mu.Unlock()
					play(ctx, client, cfg, m, &c, log)
				}
			}
		}()
	}
	for _, token := range cfg.Tokens {
		select {
		case <-ctx.Done():
		case tokens <- token:
		}
	}
	close(tokens)
	wg.Wait()

	stats.MatchesPlayed = int(c.matches.Load())
	stats.FramesSent = int(c.sent.Load())
	stats.FramesAccepted = int(c.accepted.Load())
	stats.Unauthorized = int(c.unauthorized.Load())
	stats.FramesFailed = int(c.failed.Load())
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	if cfg.Output != "" {
		if err := saveScripts(cfg.Output, scripts); err != nil {
			log.Warn(ctx, "failed to save scripts", logger.Error(err))
		}
	}
	displayFinalStats(ctx, log, stats)
	return stats, ctx.Err()
}

func play(ctx context.Context, client *HTTPClient, cfg *Config, m Match, c *counters, log logger.Logger) {
	frames := Script(m)
	for i, f := range frames {
		if i > 0 && cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.Interval):
			}
		}
		c.sent.Add(1)
		outcome, err := client.Post(ctx, f)
		switch outcome {
		case OutcomeAccepted:
			c.accepted.Add(1)
		case OutcomeUnauthorized:
			c.unauthorized.Add(1)
			// The service caches the rejection; the rest of the script is noise.
			return
		default:
			c.failed.Add(1)
		}
		if cfg.Verbose {
			log.Info(ctx, "frame posted",
				logger.String("matchID", m.MatchID),
				logger.Int("frame", i),
				logger.String("outcome", string(outcome)),
				logger.Error(err))
		}
	}
	c.matches.Add(1)
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	resp, err := client.Get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func saveScripts(filename string, matches []Match) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	out := make([][]Frame, 0, len(matches))
	for _, m := range matches {
		out = append(out, Script(m))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scripts: %w", err)
	}
	return os.WriteFile(filename, data, filePermission)
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var framesPerSecond float64
	if stats.Duration > 0 {
		framesPerSecond = float64(stats.FramesSent) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("matchesPlayed", stats.MatchesPlayed),
		logger.Int("framesSent", stats.FramesSent),
		logger.Int("framesAccepted", stats.FramesAccepted),
		logger.Int("unauthorized", stats.Unauthorized),
		logger.Int("framesFailed", stats.FramesFailed),
		logger.Duration("duration", stats.Duration),
		logger.Float64("framesPerSecond", framesPerSecond))
}
