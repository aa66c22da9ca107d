package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/dotabod/backend-sub002/internal/simulate"
	"github.com/dotabod/backend-sub002/pkg/logger"
)

// Default configuration constants.
const (
	defaultMatches  = 1
	defaultInterval = 500 * time.Millisecond
	defaultTimeout  = 10 * time.Second
	defaultRunLimit = 30 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:5120", "Base URL of the service")
		tokens   = flag.String("tokens", "", "Comma separated tokens, optionally token:accountid")
		matches  = flag.Int("matches", defaultMatches, "Matches played per token")
		interval = flag.Duration("interval", defaultInterval, "Pause between two frames of one client")
		workers  = flag.Int("workers", runtime.NumCPU(), "Clients posting at the same time")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		output   = flag.String("output", "", "Write the generated frames to this file")
		verbose  = flag.Bool("verbose", false, "Log every frame")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *tokens == "" {
		simulate.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunLimit)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:  strings.TrimRight(*baseURL, "/"),
		Tokens:   strings.Split(*tokens, ","),
		Matches:  *matches,
		Interval: *interval,
		Workers:  *workers,
		Timeout:  *timeout,
		Output:   *output,
		Verbose:  *verbose,
	}
	if _, err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
	}
}
