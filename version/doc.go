// Package version reports the build identity of the brokerpool binary.
//
// Version, commit, branch and build time are set at link time:
//
//	go build -ldflags "-X github.com/kbukum/brokerpool/version.Version=1.2.0" ./cmd/brokerpool
//
// Fields left empty are filled from the VCS stamp in the binary's build info.
package version
