package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/nojaja/gitvfs/internal/config"
	"github.com/nojaja/gitvfs/remote"
	"github.com/nojaja/gitvfs/remote/github"
	"github.com/nojaja/gitvfs/remote/gitlab"
	"github.com/nojaja/gitvfs/storage/posix"
	"github.com/nojaja/gitvfs/vfs"
)

// buildVFS assembles a *vfs.VFS from the process's global options: load
// the .gitvfs config, layer the CLI flags on top, resolve a token, and wire
// the matching remote adapter to a posix storage backend.
func buildVFS() (*vfs.VFS, *config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Override(opts.Provider, opts.Owner, opts.Repo, opts.Branch, opts.Host)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	token, err := resolveToken()
	if err != nil {
		return nil, nil, err
	}

	var adapter remote.Adapter
	switch config.Provider(cfg.Remote.Provider) {
	case config.ProviderGitHub:
		var ghOpts []github.Option
		ghOpts = append(ghOpts, github.WithBranch(cfg.Remote.Branch))
		if cfg.Remote.Host != "" {
			ghOpts = append(ghOpts, github.WithAPIBase(cfg.Remote.Host))
		}
		adapter = github.New(cfg.Remote.Owner, cfg.Remote.Repo, token, ghOpts...)
	case config.ProviderGitLab:
		var glOpts []gitlab.Option
		glOpts = append(glOpts, gitlab.WithBranch(cfg.Remote.Branch))
		if cfg.Remote.Host != "" {
			glOpts = append(glOpts, gitlab.WithHost(cfg.Remote.Host))
		}
		projectID := cfg.Remote.Owner + "%2F" + cfg.Remote.Repo
		adapter = gitlab.New(projectID, token, glOpts...)
	default:
		return nil, nil, fmt.Errorf("unsupported provider %q", cfg.Remote.Provider)
	}

	backend, err := posix.NewStorage(opts.DataDir, posix.Options{})
	if err != nil {
		return nil, nil, err
	}

	v := vfs.New(backend, adapter, cfg.Remote.Branch)
	if err := v.Init(); err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

func resolveToken() (string, error) {
	if opts.Token != "" {
		return opts.Token, nil
	}
	if env := os.Getenv("GITVFS_TOKEN"); env != "" {
		return env, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no token given: pass --token, set GITVFS_TOKEN, or run interactively")
	}
	fmt.Fprint(os.Stderr, "API token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return string(raw), nil
}
