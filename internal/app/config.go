// Package app resolves the orchestrator's ambient configuration: where its
// state lives on disk, and the small environment contract (container
// image, compose file, service names, VCS identity) spec §6 describes.
// Resolution order is flag > env > config-file > built-in default,
// following the teacher's settings-override style.
package app

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ConfigDir returns ~/.config/storyforge.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "storyforge"), nil
}

// EnsureConfigDir creates the config directory and a default config.yaml
// if neither already exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0o600)
	}
	return nil
}

const defaultConfig = `# storyforge configuration
# Run: storyforge --help
#
# Every field below may also be set via the environment variables listed
# in the comments, or overridden per-invocation with a CLI flag.

# container_image: storyforge/workspace:latest   # STORYFORGE_CONTAINER_IMAGE
# compose_file: docker-compose.yml               # STORYFORGE_COMPOSE_FILE
# env_file: .env                                 # STORYFORGE_ENV_FILE
# main_service: app                              # STORYFORGE_MAIN_SERVICE
# infra_services: postgres,redis                 # STORYFORGE_INFRA_SERVICES
# vcs_name: storyforge-bot                       # STORYFORGE_VCS_NAME
# vcs_email: storyforge-bot@local                # STORYFORGE_VCS_EMAIL
`

// Settings is the subset of config.yaml the environment contract reads.
type Settings struct {
	ContainerImage string `yaml:"container_image"`
	ComposeFile    string `yaml:"compose_file"`
	EnvFile        string `yaml:"env_file"`
	MainService    string `yaml:"main_service"`
	InfraServices  string `yaml:"infra_services"`
	VCSName        string `yaml:"vcs_name"`
	VCSEmail       string `yaml:"vcs_email"`
}

//nolint:gochecknoglobals // sync.Once singleton, mirrors the teacher's settings cache
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error
)

// LoadSettings loads config.yaml from ConfigDir once per process. A
// missing file is not an error; Settings is returned zero-valued so every
// field falls through to its environment variable or built-in default.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		b, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			settingsErr = err
			return
		}
		if err := yaml.Unmarshal(b, &settings); err != nil {
			settingsErr = err
		}
	})
	return settings, settingsErr
}

// Environment is the resolved environment contract (spec §6).
type Environment struct {
	ContainerImage string
	ComposeFile    string
	EnvFile        string
	MainService    string
	InfraServices  []string
	VCSName        string
	VCSEmail       string
}

// Overrides carries CLI flag values, which take precedence over
// environment variables and the config file. A zero-value field means
// "no flag given" and falls through to the next source.
type Overrides struct {
	ContainerImage string
	ComposeFile    string
	EnvFile        string
	MainService    string
	InfraServices  string
	VCSName        string
	VCSEmail       string
}

// ResolveEnvironment applies flag > env > config-file > default precedence
// for each field of the environment contract.
func ResolveEnvironment(o Overrides) Environment {
	s, _ := LoadSettings() // a load error still leaves usable built-in defaults

	return Environment{
		ContainerImage: pick(o.ContainerImage, "STORYFORGE_CONTAINER_IMAGE", s.ContainerImage, "storyforge/workspace:latest"),
		ComposeFile:    pick(o.ComposeFile, "STORYFORGE_COMPOSE_FILE", s.ComposeFile, "docker-compose.yml"),
		EnvFile:        pick(o.EnvFile, "STORYFORGE_ENV_FILE", s.EnvFile, ".env"),
		MainService:    pick(o.MainService, "STORYFORGE_MAIN_SERVICE", s.MainService, "app"),
		InfraServices:  splitServices(pick(o.InfraServices, "STORYFORGE_INFRA_SERVICES", s.InfraServices, "")),
		VCSName:        pick(o.VCSName, "STORYFORGE_VCS_NAME", s.VCSName, "storyforge-bot"),
		VCSEmail:       pick(o.VCSEmail, "STORYFORGE_VCS_EMAIL", s.VCSEmail, "storyforge-bot@local"),
	}
}

// pick returns the first non-empty of: flag value, environment variable
// named env, config-file value, default.
func pick(flag, env, fileValue, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return def
}

func splitServices(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DataDir returns the directory the state store, scratch area, edit drop
// box, and history index all live under for one orchestration run.
// Defaults to ./.storyforge relative to the working directory, overridable
// via STORYFORGE_DATA_DIR.
func DataDir(override string) string {
	if override != "" {
		return override
	}
	if v := os.Getenv("STORYFORGE_DATA_DIR"); v != "" {
		return v
	}
	return ".storyforge"
}
