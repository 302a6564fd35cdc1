package version

import (
	"fmt"
	"io"
	"runtime"
)

// Overridden at link time via -ldflags, keep the defaults obvious.
var (
	Version   = "v0.1.0-dev"
	GitRev    = "unknown"
	GitBranch = "unknown"
	BuildDate = "unknown"
)

// Info bundles the build identity with the runtime it was compiled by.
type Info struct {
	Version   string
	GitRev    string
	GitBranch string
	BuildDate string
	GoVersion string
	Platform  string
}

func Get() Info {
	return Info{
		Version:   Version,
		GitRev:    GitRev,
		GitBranch: GitBranch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("bridgewatch %s (%s@%s, built %s, %s %s)\n",
		i.Version, i.GitBranch, i.GitRev, i.BuildDate, i.GoVersion, i.Platform)
}

// PrintVersion writes the one-line build identity to w.
func PrintVersion(w io.Writer) {
	fmt.Fprint(w, Get().String())
}
