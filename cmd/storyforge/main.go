// Storyforge orchestrates a fleet of coding-agent workers against a manifest
// of dependent stories, each run through a fixed multi-step workflow in its
// own isolated git checkout, and integrated back via rebase and squash merge.
package main

import (
	"os"
	"runtime/debug"

	"github.com/dotcommander/storyforge/internal/commands"
	"github.com/dotcommander/storyforge/internal/output"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	err := commands.Execute(version)
	os.Exit(output.ExitCode(err))
}
