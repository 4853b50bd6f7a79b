package main

import (
	"context"
	"errors"

	"github.com/pterm/pterm"

	"github.com/nojaja/gitvfs/vfs"
)

type pushCmd struct {
	Message string `short:"m" long:"message" required:"true" description:"commit message"`
}

func (c *pushCmd) Execute(args []string) error {
	v, _, err := buildVFS()
	if err != nil {
		return err
	}

	res, err := v.Push(context.Background(), vfs.PushOptions{Message: c.Message, ParentSha: v.Head()})
	switch {
	case errors.Is(err, vfs.ErrUnresolvedConflicts):
		pterm.Error.Println("push blocked: resolve conflicted paths first (see `gitvfs status`)")
		return err
	case errors.Is(err, vfs.ErrHeadMismatch):
		pterm.Error.Println("push blocked: local head is stale, run `gitvfs pull` first")
		return err
	case err != nil:
		return err
	}

	if res.Noop {
		pterm.Info.Println("nothing to push")
		return nil
	}
	pterm.Success.Printfln("pushed commit %s", res.CommitSha)
	return nil
}
