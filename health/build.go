package health

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	buildOnce sync.Once
	buildText string
)

// buildInfo describes the running binary as "<version>-<commit> (<go version>)".
// BUILD_VERSION and BUILD_COMMIT override what the linker recorded.
func buildInfo() string {
	buildOnce.Do(func() {
		version, commit := "dev", "unknown"

		if info, ok := debug.ReadBuildInfo(); ok {
			if v := info.Main.Version; v != "" && v != "(devel)" {
				version = v
			}
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" && setting.Value != "" {
					commit = setting.Value
				}
			}
		}

		if v := os.Getenv("BUILD_VERSION"); v != "" {
			version = v
		}
		if c := os.Getenv("BUILD_COMMIT"); c != "" {
			commit = c
		}
		if len(commit) > 7 {
			commit = commit[:7]
		}

		buildText = fmt.Sprintf("%s-%s (%s)", version, commit, runtime.Version())
	})
	return buildText
}
