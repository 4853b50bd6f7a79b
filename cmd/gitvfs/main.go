// Command gitvfs is a small CLI demonstrating the client-side virtual
// filesystem against a real GitHub or GitLab repository.
package main

import (
	"log/slog"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/pterm/pterm"
)

type globalOptions struct {
	ConfigPath string `long:"config" default:".gitvfs" description:"path to the .gitvfs config file"`
	DataDir    string `long:"data-dir" default:".gitvfs-data" description:"posix storage root"`
	Owner      string `long:"owner" description:"remote owner/org, overrides config"`
	Repo       string `long:"repo" description:"remote repository name, overrides config"`
	Provider   string `long:"provider" description:"github or gitlab, overrides config"`
	Branch     string `long:"branch" description:"branch name, overrides config"`
	Host       string `long:"host" description:"alternate API host, e.g. a self-hosted GitLab"`
	Token      string `long:"token" description:"API token; falls back to $GITVFS_TOKEN, then an interactive prompt"`
}

var opts globalOptions

func main() {
	slog.SetDefault(slog.New(newPtermHandler()))

	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("init", "Initialize a tracked root", "", &initCmd{})
	parser.AddCommand("write", "Write a file's workspace content", "", &writeCmd{})
	parser.AddCommand("rm", "Delete a tracked file", "", &rmCmd{})
	parser.AddCommand("mv", "Rename a tracked file", "", &mvCmd{})
	parser.AddCommand("status", "Show every tracked path and its state", "", &statusCmd{})
	parser.AddCommand("pull", "Reconcile against the remote", "", &pullCmd{})
	parser.AddCommand("push", "Commit pending changes to the remote", "", &pushCmd{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
