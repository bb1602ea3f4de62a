// Package build holds version information stamped in at link time, e.g.
//
//	go build -ldflags "-X github.com/armadaproject/jobthroughput/internal/common/build.ReleaseVersion=v0.3.0"
package build

import "runtime"

var (
	ReleaseVersion = "UNKNOWN_VERSION"
	GitCommit      = "UNKNOWN_GITCOMMIT"
	GoVersion      = runtime.Version()
	BuildTime      = "UNKNOWN_BUILDTIME"
)
