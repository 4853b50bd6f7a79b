package main

import "github.com/pterm/pterm"

type initCmd struct{}

func (c *initCmd) Execute(args []string) error {
	v, cfg, err := buildVFS()
	if err != nil {
		return err
	}
	pterm.Success.Printfln("initialized %s/%s (%s) at head %s", cfg.Remote.Owner, cfg.Remote.Repo, cfg.Remote.Branch, headOrNone(v.Head()))
	return nil
}

func headOrNone(head string) string {
	if head == "" {
		return "<none>"
	}
	return head
}
