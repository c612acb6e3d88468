package commands

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotcommander/storyforge/internal/agent"
	"github.com/dotcommander/storyforge/internal/app"
	"github.com/dotcommander/storyforge/internal/output"
	"github.com/dotcommander/storyforge/internal/scheduler"
	"github.com/dotcommander/storyforge/internal/vcs"
	"github.com/dotcommander/storyforge/internal/workspace"
)

func newRunCmd() *cobra.Command {
	var (
		repoDir        string
		parallelism    int
		resume         bool
		build          bool
		containerImage string
		composeFile    string
		envFile        string
		mainService    string
		infraServices  string
	)

	cmd := &cobra.Command{
		Use:   "run <manifest.yaml | one-shot request>",
		Short: "Bootstrap (or resume) a manifest, or a single free-form request, and drive every story to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			agentName, _ := cmd.Flags().GetString("agent")

			rc, err := openRunContext(dataDir)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = rc.Close() }()

			// Bootstrap is itself idempotent (SeedStories skips stories
			// already present), so --resume is documentary: it marks that
			// the operator knows data-dir holds a prior run rather than
			// silently reusing one they didn't expect.
			_ = resume

			env := app.ResolveEnvironment(app.Overrides{
				ContainerImage: containerImage,
				ComposeFile:    composeFile,
				EnvFile:        envFile,
				MainService:    mainService,
				InfraServices:  infraServices,
			})
			if build {
				if err := buildComposeStack(env); err != nil {
					return cmdErr(err)
				}
			}

			manifestPath, err := resolveManifestPath(rc.dataDir, args[0])
			if err != nil {
				return cmdErr(err)
			}

			backend, err := agent.New(agentName)
			if err != nil {
				return cmdErr(err)
			}

			base := vcs.Open(repoDir)
			wsRoot := filepath.Join(rc.dataDir, "workspaces")
			wsManager, err := workspace.NewManager(base, wsRoot)
			if err != nil {
				return cmdErr(err)
			}

			sched := scheduler.New(scheduler.Config{
				Store:       rc.store,
				Scratch:     rc.scratch,
				Edits:       rc.edits,
				Index:       rc.index,
				Workspace:   wsManager,
				Backend:     backend,
				LogRoot:     filepath.Join(rc.dataDir, "logs"),
				Parallelism: parallelism,
			})

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := sched.Bootstrap(ctx, manifestPath); err != nil {
				return cmdErr(err)
			}
			if err := sched.Reconcile(ctx); err != nil {
				return cmdErr(err)
			}
			if err := sched.Run(ctx); err != nil {
				return cmdErr(err)
			}

			type resp struct {
				DataDir string `json:"data_dir"`
				Status  string `json:"status"`
			}
			if err := output.PrintSuccess(resp{DataDir: rc.dataDir, Status: "all stories terminal or permanently blocked"}); err != nil {
				return cmdErr(fmt.Errorf("print response: %w", err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", ".", "Base git repository stories are checked out from and integrated back into")
	cmd.Flags().IntVar(&parallelism, "parallelism", 4, "Maximum number of stories run concurrently")
	cmd.Flags().BoolVar(&resume, "resume", false, "Acknowledge that data-dir already holds a prior run to resume")
	cmd.Flags().BoolVar(&build, "build", false, "Build the environment's compose stack before running")
	cmd.Flags().StringVar(&containerImage, "container-image", "", "Override STORYFORGE_CONTAINER_IMAGE")
	cmd.Flags().StringVar(&composeFile, "compose-file", "", "Override STORYFORGE_COMPOSE_FILE")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Override STORYFORGE_ENV_FILE")
	cmd.Flags().StringVar(&mainService, "main-service", "", "Override STORYFORGE_MAIN_SERVICE")
	cmd.Flags().StringVar(&infraServices, "infra-services", "", "Override STORYFORGE_INFRA_SERVICES (comma-separated)")
	return cmd
}

// resolveManifestPath accepts either an existing manifest file path, or a
// free-form one-shot request string (spec §6): when arg isn't a path to an
// existing file, it is wrapped as the sole story in a synthetic
// single-story manifest written under dataDir.
func resolveManifestPath(dataDir, arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, nil
	}

	id := "adhoc-" + slugify(arg)
	synthPath := filepath.Join(dataDir, "adhoc-manifest.yaml")
	content := fmt.Sprintf("stories:\n  - id: %s\n    title: %q\n    description: %q\n    acceptance_criteria:\n      - the request described in the title is satisfied\n",
		id, arg, arg)
	if err := os.WriteFile(synthPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write synthetic one-shot manifest: %w", err)
	}
	return synthPath, nil
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 40 {
		out = out[:40]
	}
	if out == "" {
		out = "request"
	}
	return out
}

// buildComposeStack shells out to `docker compose build` for the main and
// infra services named by env, using its compose and env files.
func buildComposeStack(env app.Environment) error {
	args := []string{"compose", "-f", env.ComposeFile}
	if env.EnvFile != "" {
		args = append(args, "--env-file", env.EnvFile)
	}
	args = append(args, "build", env.MainService)
	args = append(args, env.InfraServices...)

	cmd := exec.Command("docker", args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build compose stack (image %s): %w", env.ContainerImage, err)
	}
	return nil
}
