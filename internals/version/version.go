package version

import (
	"runtime/debug"
	"strings"
)

// SemVer is set at build time for releases.
//
// Example:
//
//	-ldflags "-X github.com/romakot321/higgsfieldai-api/internals/version.SemVer=1.2.3"
var SemVer = "0.0.0-dev"

// BuiltAt is set at build time for releases.
var BuiltAt = ""

type Info struct {
	SemVer    string
	Revision  string
	Dirty     bool
	BuiltAt   string
	GoVersion string
}

// Get collects the build identity from the linker flags and the vcs stamp.
func Get() Info {
	info := Info{SemVer: strings.TrimSpace(SemVer), BuiltAt: strings.TrimSpace(BuiltAt)}
	if info.SemVer == "" {
		info.SemVer = "0.0.0-dev"
	}

	build, ok := debug.ReadBuildInfo()
	if !ok || build == nil {
		return info
	}
	info.GoVersion = build.GoVersion
	for _, s := range build.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = strings.TrimSpace(s.Value)
		case "vcs.modified":
			v := strings.ToLower(strings.TrimSpace(s.Value))
			info.Dirty = v == "true" || v == "1"
		case "vcs.time":
			if info.BuiltAt == "" {
				info.BuiltAt = strings.TrimSpace(s.Value)
			}
		}
	}
	if len(info.Revision) > 12 {
		info.Revision = info.Revision[:12]
	}
	return info
}

// Version returns SemVer with the revision as build metadata.
//
// Examples:
//   - 1.2.3+a1b2c3d4e5f6
//   - 0.0.0-dev+a1b2c3d4e5f6.dirty
func Version() string {
	return Get().String()
}

func (i Info) String() string {
	meta := i.Revision
	if meta != "" && i.Dirty {
		meta += ".dirty"
	}
	if meta == "" {
		return i.SemVer
	}
	if strings.Contains(i.SemVer, "+") {
		return i.SemVer + "." + meta
	}
	return i.SemVer + "+" + meta
}
