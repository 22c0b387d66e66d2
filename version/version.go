package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Set with -ldflags -X.
var (
	Version   = "dev"
	GitCommit = ""
	GitBranch = ""
	BuildTime = ""
)

// Info is the resolved build identity.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	GitBranch string    `json:"git_branch"`
	GoVersion string    `json:"go_version"`
	BuildDate time.Time `json:"build_date"`
	Dirty     bool      `json:"dirty"`
}

// Release reports whether the binary was built from a tagged version.
func (i Info) Release() bool {
	return i.Version != "dev" && !i.Dirty
}

// Get resolves the build identity from the link-time variables and the
// embedded build info.
func Get() Info {
	info := Info{Version: Version, GitCommit: GitCommit, GitBranch: GitBranch}
	if BuildTime != "" {
		if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
			info.BuildDate = t
		}
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyBuildInfo(&info, bi)
	}
	return info
}

func applyBuildInfo(info *Info, bi *debug.BuildInfo) {
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildDate.IsZero() {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildDate = t
				}
			}
		}
	}
	if len(info.GitCommit) > 7 {
		info.GitCommit = info.GitCommit[:7]
	}
}

// Short returns version-commit, with a -dirty suffix for modified trees.
func (i Info) Short() string {
	if i.GitCommit == "" {
		return i.Version
	}
	s := i.Version + "-" + i.GitCommit
	if i.Dirty {
		s += "-dirty"
	}
	return s
}

// String returns the short form plus branch, Go version and build date
// when known.
func (i Info) String() string {
	parts := []string{i.Short()}
	if i.GitBranch != "" && i.GitBranch != "main" && i.GitBranch != "master" {
		parts = append(parts, "branch "+i.GitBranch)
	}
	if i.GoVersion != "" {
		parts = append(parts, i.GoVersion)
	}
	if !i.BuildDate.IsZero() {
		parts = append(parts, "built "+i.BuildDate.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, ", ")
}

// Short is Get().Short().
func Short() string { return Get().Short() }

// Banner is the one-line identity printed by the version command.
func Banner(name string) string {
	return fmt.Sprintf("%s %s", name, Get())
}
