package main

import (
	"io"
	"os"

	"github.com/pterm/pterm"
)

type writeCmd struct {
	Args struct {
		Path   string `positional-arg-name:"path" required:"true"`
		Source string `positional-arg-name:"file-or-dash" required:"true"`
	} `positional-args:"yes"`
}

func (c *writeCmd) Execute(args []string) error {
	v, _, err := buildVFS()
	if err != nil {
		return err
	}

	var content []byte
	if c.Args.Source == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(c.Args.Source)
	}
	if err != nil {
		return err
	}

	if err := v.WriteFile(c.Args.Path, content); err != nil {
		return err
	}
	pterm.Success.Printfln("wrote %s (%d bytes)", c.Args.Path, len(content))
	return nil
}
