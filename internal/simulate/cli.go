package simulate

import "os"

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Telemetry Simulator
===================

Plays scripted matches against the ingress endpoint the way a game client
would: draft, pre game, play with roshan and a pause, then the result.

Usage:
  go run ./cmd/gsi-sim -tokens tok1,tok2 [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:5120")
  -tokens string
        Comma separated tokens to post as, optionally token:accountid (required)
  -matches int
        Matches played per token (default 1)
  -interval duration
        Pause between two frames of one client (default 500ms)
  -workers int
        Clients posting at the same time (default CPU cores)
  -timeout duration
        HTTP request timeout (default 10s)
  -output string
        Write the generated frames to this file
  -verbose
        Log every frame
  -help
        Show this help message
`)
}
