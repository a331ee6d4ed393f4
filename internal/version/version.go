// Package version reports build information for warden.
package version

import (
	"fmt"
	"runtime"
)

// Set through -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	Platform  string
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return i.Version
}

// Full returns every build detail on one line.
func (i Info) Full() string {
	return fmt.Sprintf("%s (%s) built %s %s %s", i.Version, i.Commit, i.BuildDate, i.GoVersion, i.Platform)
}

// UserAgent is sent on outbound plugin HTTP requests.
func (i Info) UserAgent() string {
	return fmt.Sprintf("Warden/%s (%s)", i.Version, i.Platform)
}
