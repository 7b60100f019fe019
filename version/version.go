// Package version reports the build of the watchtower binary.
// Values are injected with -ldflags "-X github.com/teranos/watchtower/version.Commit=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	Commit    = "dev"
	BuildTime = "unknown"
	Tag       = "" // empty for untagged builds
)

// Info describes the running binary
type Info struct {
	Tag       string `json:"tag,omitempty"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build info of the running binary
func Get() Info {
	return Info{
		Tag:       Tag,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns the abbreviated commit
func (i Info) Short() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

func (i Info) String() string {
	name := i.Tag
	if name == "" {
		name = "dev"
	}
	return fmt.Sprintf("watchtower %s (%s, built %s, %s %s)", name, i.Short(), i.BuildTime, i.GoVersion, i.Platform)
}
