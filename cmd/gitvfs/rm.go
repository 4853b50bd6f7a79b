package main

import "github.com/pterm/pterm"

type rmCmd struct {
	Args struct {
		Path string `positional-arg-name:"path" required:"true"`
	} `positional-args:"yes"`
}

func (c *rmCmd) Execute(args []string) error {
	v, _, err := buildVFS()
	if err != nil {
		return err
	}
	if err := v.DeleteFile(c.Args.Path); err != nil {
		return err
	}
	pterm.Success.Printfln("deleted %s", c.Args.Path)
	return nil
}
