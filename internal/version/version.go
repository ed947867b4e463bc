// Package version carries the build identity stamped into the filegraph
// binaries. Release builds set the variables via ldflags; dev builds fall
// back to the Go VCS build metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const devVersion = "0.1.0-dev"

var (
	AppName   = "filegraph"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// vcsInfo is the identity the Go toolchain embedded at build time.
type vcsInfo struct {
	moduleVersion string
	revision      string
	dirty         bool
	buildTime     string
}

func readVCS() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return v
	}
	v.moduleVersion = info.Main.Version
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.modified":
			v.dirty = s.Value == "true"
		case "vcs.time":
			v.buildTime = s.Value
		}
	}
	return v
}

// merge fills any identity field that ldflags left at its dev default.
// Values already stamped in always win.
func merge(v vcsInfo) {
	if Version == devVersion || Version == "" {
		if mv := v.moduleVersion; mv != "" && mv != "(devel)" {
			Version = strings.TrimPrefix(mv, "v")
		}
	}
	if Revision == "HEAD" || Revision == "" {
		if v.revision != "" {
			Revision = v.revision
			if v.dirty {
				Revision += "-dirty"
			}
		}
	}
	if BuildDate == "" {
		BuildDate = v.buildTime
	}
}

// Short is the version plus revision, e.g. `0.1.0-dev (5e23a4)`.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// ShortWithApp prefixes Short with the application name.
func ShortWithApp() string {
	return AppName + " " + Short()
}

// Detailed adds the toolchain, platform, and build date to Short.
func Detailed() string {
	return fmt.Sprintf("%s (%s; %s; %s/%s; %s)",
		Version, Revision, runtime.Version(), runtime.GOOS, runtime.GOARCH, BuildDate)
}

// DetailedWithApp prefixes Detailed with the application name.
func DetailedWithApp() string {
	return AppName + " " + Detailed()
}

func init() {
	merge(readVCS())
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
