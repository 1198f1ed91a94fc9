// Package buildinfo carries the version stamped in at link time.
package buildinfo

import (
	"fmt"

	"github.com/cordum/edgeconf/core/infra/logging"
)

// Set with -ldflags "-X github.com/cordum/edgeconf/core/infra/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Log records the build of service at info level.
func Log(service string) {
	logging.Info(service, "starting", "version", Version, "commit", Commit, "date", Date)
}
