package main

import "github.com/pterm/pterm"

type mvCmd struct {
	Args struct {
		From string `positional-arg-name:"from" required:"true"`
		To   string `positional-arg-name:"to" required:"true"`
	} `positional-args:"yes"`
}

func (c *mvCmd) Execute(args []string) error {
	v, _, err := buildVFS()
	if err != nil {
		return err
	}
	if err := v.RenameWorkspace(c.Args.From, c.Args.To); err != nil {
		return err
	}
	pterm.Success.Printfln("renamed %s -> %s", c.Args.From, c.Args.To)
	return nil
}
