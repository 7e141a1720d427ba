// Package vars holds build metadata. Values are set with -ldflags -X and fall back
// to the VCS stamp the Go toolchain embeds into the binary.
package vars

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"
)

const (
	// Name of the service
	Name = "Seeker"

	// URL of the source repository
	URL = "https://github.com/woozymasta/seeker"

	// License of the project
	License = "AGPL-3.0"
)

var (
	// Version is the release tag, e.g. v1.2.3
	Version = "dev"

	// Commit is the full git SHA
	Commit = ""

	// BuildTime is the RFC3339 build timestamp
	BuildTime = ""
)

// BuildInfo is served by the version endpoint.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	URL       string `json:"url"`
	License   string `json:"license"`
}

// Info collects the build metadata, filling commit and build time from the
// embedded VCS settings when they were not set at link time.
func Info() BuildInfo {
	info := BuildInfo{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		URL:       URL,
		License:   License,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = s.Value
			case s.Key == "vcs.time" && info.BuildTime == "":
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildTime = t.UTC().Format(time.RFC3339)
				}
			}
		}
	}

	return info
}

// Print writes the build metadata for --version.
func Print(w io.Writer) {
	info := Info()
	_, _ = fmt.Fprintf(w, "%s %s\ncommit: %s\nbuilt:  %s\n%s (%s)\n",
		info.Name, info.Version, orUnknown(CommitShort(info.Commit)), orUnknown(info.BuildTime), info.URL, info.License)
}

// UserAgent is sent with every outbound request (enrichment lookups, GeoIP downloads).
func UserAgent() string {
	return fmt.Sprintf("%s/%s (+%s)", strings.ToLower(Name), strings.TrimPrefix(Version, "v"), URL)
}

// CommitShort abbreviates a git SHA to 7 characters.
func CommitShort(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
