// Command demo runs a colorized, self-contained demonstration of
// storyforge against a synthetic manifest and the mock agent backend.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dotcommander/storyforge/internal/demo"
)

func main() {
	var binPath string
	flag.StringVar(&binPath, "bin", "", "Path to storyforge binary (default: builds from source)")
	flag.Parse()

	if binPath == "" {
		tmpDir, err := os.MkdirTemp("", "storyforge-demo-bin-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.RemoveAll(tmpDir) }()

		binPath = filepath.Join(tmpDir, "storyforge")
		fmt.Fprintln(os.Stderr, "building storyforge binary...")
		buildCmd := exec.Command("go", "build", "-o", binPath, "./cmd/storyforge")
		buildCmd.Stdout = os.Stderr
		buildCmd.Stderr = os.Stderr
		if err := buildCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to build storyforge: %v\n", err)
			os.Exit(1)
		}
	}

	repoDir, err := os.MkdirTemp("", "storyforge-demo-repo-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create repo dir: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = os.RemoveAll(repoDir) }()

	dataDir, err := os.MkdirTemp("", "storyforge-demo-data-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = os.RemoveAll(dataDir) }()

	r := demo.NewRunner(binPath, repoDir, dataDir, os.Stdout)
	passed, failed := r.RunAll()

	fmt.Fprintf(os.Stdout, "\n%d passed, %d failed, %d total\n", passed, failed, passed+failed)
	if failed > 0 {
		os.Exit(1)
	}
}
