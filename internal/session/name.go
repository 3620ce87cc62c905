package session

import (
	"fmt"
	"regexp"

	"chatview/internal/config"
)

// DefaultSessionName is used when neither the flag nor the config file
// names a session.
const DefaultSessionName = "main"

// Session names double as directory names, so they are restricted to
// lowercase alphanumerics, dashes and underscores.
var validName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot safely become a session
// directory.
func ValidateName(name string) error {
	if validName.MatchString(name) {
		return nil
	}
	return fmt.Errorf("bad session name %q: want 1-64 lowercase letters, digits, - or _", name)
}

// Resolve picks the active session: the flag wins, then the config
// file's default_session, then DefaultSessionName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
