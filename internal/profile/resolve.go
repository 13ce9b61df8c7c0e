package profile

import (
	"os"
	"strings"

	"github.com/ricardofn/chirp/internal/config"
)

const DefaultProfileName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}

// ResolveToken determines the credential token using precedence:
// 1. flagOverride (--token flag)
// 2. CHIRP_TOKEN environment variable
// 3. the profile's token file
func ResolveToken(flagOverride, profileName string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("CHIRP_TOKEN"); env != "" {
		return env
	}
	data, err := os.ReadFile(TokenPath(profileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken writes the credential token to the profile's token file.
func SaveToken(profileName, token string) error {
	if err := EnsureDir(profileName); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(profileName), []byte(token+"\n"), 0600)
}
