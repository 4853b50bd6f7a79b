package main

import (
	"context"

	"github.com/pterm/pterm"
)

type pullCmd struct{}

func (c *pullCmd) Execute(args []string) error {
	v, _, err := buildVFS()
	if err != nil {
		return err
	}

	res, err := v.Pull(context.Background())
	if err != nil {
		return err
	}

	pterm.Success.Printfln("pulled %d file(s) to head %s", len(res.FetchedPaths), v.Head())
	if len(res.Conflicts) > 0 {
		pterm.Warning.Printfln("%d path(s) now conflicted:", len(res.Conflicts))
		for _, conf := range res.Conflicts {
			pterm.Printfln("  %s (remote %s)", conf.Path, conf.RemoteSha)
		}
	}
	return nil
}
