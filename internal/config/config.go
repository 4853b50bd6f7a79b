// Package config loads the `.gitvfs` repository config file, in the same
// git-config-style ini format go-git parses for `.git/config`.
package config

import (
	"fmt"
	"os"

	"github.com/go-git/gcfg"
)

// Provider names one of the two supported remote hosts.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// Config is the `.gitvfs` file's `[remote]` section plus defaults.
type Config struct {
	Remote struct {
		Provider string `gcfg:"provider"`
		Owner    string `gcfg:"owner"`
		Repo     string `gcfg:"repo"`
		Branch   string `gcfg:"branch"`
		Host     string `gcfg:"host"`
	}
}

// Default returns the built-in defaults applied before any file or flag
// values are layered on top.
func Default() *Config {
	c := &Config{}
	c.Remote.Branch = "main"
	return c
}

// Load reads and parses path, starting from Default(). A missing file is
// not an error: it returns Default() unchanged, since CLI flags alone are a
// valid way to configure gitvfs.
func Load(path string) (*Config, error) {
	c := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}
	if err := gcfg.ReadFileInto(c, path); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// Override layers non-empty CLI flag values on top of c, file values
// losing to flags wherever both set the same field.
func (c *Config) Override(provider, owner, repo, branch, host string) {
	if provider != "" {
		c.Remote.Provider = provider
	}
	if owner != "" {
		c.Remote.Owner = owner
	}
	if repo != "" {
		c.Remote.Repo = repo
	}
	if branch != "" {
		c.Remote.Branch = branch
	}
	if host != "" {
		c.Remote.Host = host
	}
}

// Validate reports whether c has enough information to dial a remote.
func (c *Config) Validate() error {
	if c.Remote.Provider != string(ProviderGitHub) && c.Remote.Provider != string(ProviderGitLab) {
		return fmt.Errorf("config: remote.provider must be %q or %q, got %q", ProviderGitHub, ProviderGitLab, c.Remote.Provider)
	}
	if c.Remote.Owner == "" || c.Remote.Repo == "" {
		return fmt.Errorf("config: remote.owner and remote.repo are required")
	}
	return nil
}
