package version

import (
	"fmt"
	"runtime"
)

// These variables are populated by the build process
var (
	// Version is the version of the build
	Version = "dev"
	// BuildTime is the time when the build was created
	BuildTime = "unknown"
)

// Print returns the version line of the named program.
func Print(program string) string {
	return fmt.Sprintf("%s v%s (built: %s, %s/%s)",
		program,
		Version,
		BuildTime,
		runtime.GOOS,
		runtime.GOARCH,
	)
}
