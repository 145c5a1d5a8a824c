package feedclient

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/jobboard/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging initializes the global logger, writing to stdout and, when
// logFile is set, to that file as well.
func SetupLogging(logFile string, verbose bool) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	if logFile == "" {
		return nil
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return nil
}

// ShowHelp prints usage information.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `Job Board Feed Client
=====================

Creates jobs, watches the client's job feed and submits bids from many
sockets, then checks every acknowledgement and broadcast arrived.

Usage:
  go run ./cmd/feedclient [options]

Options:
  -url string        Base URL of the service (default "http://localhost:9080")
  -client string     Client id owning the generated jobs (default "feedclient")
  -jobs int          Jobs to create (default 5)
  -bidders int       Concurrent bid sockets (default 4)
  -bids int          Bids per bidder (default 10)
  -workers int       Concurrent job creators (default 4)
  -timeout duration  Request timeout and delivery wait (default 30s)
  -token string      Bearer token for the bid sockets
  -log string        Also write logs to this file
  -verbose           Log every received event
  -help              Show this help message

Examples:
  go run ./cmd/feedclient -bidders 16 -bids 50
  go run ./cmd/feedclient -url http://localhost:8080 -token "$TOKEN"
`)
}
