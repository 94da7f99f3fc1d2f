// Package paths lays out the on-disk state under ~/.relay. Each profile gets
// its own directory so a relay and several chat clients can share a host.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/matheus3301/relay/internal/config"
)

const DefaultProfile = "main"

// HomeEnv overrides the base directory when set.
const HomeEnv = "RELAY_HOME"

var profileRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// BaseDir returns $RELAY_HOME, or ~/.relay.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relay")
}

// ServerDir returns the relay daemon directory for a profile.
func ServerDir(profile string) string {
	return filepath.Join(BaseDir(), "server", profile)
}

// ClientDir returns the chat client directory for a profile.
func ClientDir(profile string) string {
	return filepath.Join(BaseDir(), "client", profile)
}

// SocketPath returns the admin socket of a relay profile.
func SocketPath(profile string) string {
	return filepath.Join(ServerDir(profile), "admin.sock")
}

// LockPath returns the lock file guarding a directory.
func LockPath(dir string) string {
	return filepath.Join(dir, "LOCK")
}

// QueuePath returns the client's outbound queue database.
func QueuePath(profile string) string {
	return filepath.Join(ClientDir(profile), "outbox.db")
}

func LogPath(dir, component string) string {
	return filepath.Join(dir, "logs", component+".log")
}

// ConfigPath returns the shared config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates dir and its logs subdirectory with owner-only permissions.
func EnsureDir(dir string) error {
	for _, d := range []string{dir, filepath.Join(dir, "logs")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ValidateProfile checks that name is usable as a directory name.
func ValidateProfile(name string) error {
	if !profileRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match %s", name, profileRegexp)
	}
	return nil
}

// ResolveProfile determines the active profile using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func ResolveProfile(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfile
}
