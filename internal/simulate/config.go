package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Tokens   []string      // token or token:accountid, one simulated client each
	Matches  int           // Matches played per token
	Interval time.Duration // Pause between two frames of one client
	Workers  int           // Clients posting at the same time
	Timeout  time.Duration // HTTP request timeout
	Output   string        // File the generated frames are written to, if set
	Verbose  bool          // Log every frame
}

// Frame is one telemetry POST body.
type Frame map[string]any

// Stats holds run statistics.
type Stats struct {
	MatchesPlayed  int
	FramesSent     int
	FramesAccepted int
	Unauthorized   int
	FramesFailed   int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}
