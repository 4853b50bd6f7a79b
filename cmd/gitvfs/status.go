package main

import "github.com/pterm/pterm"

type statusCmd struct{}

func (c *statusCmd) Execute(args []string) error {
	v, _, err := buildVFS()
	if err != nil {
		return err
	}

	entries := v.Status()
	if len(entries) == 0 {
		pterm.Info.Println("no tracked paths")
		return nil
	}

	data := pterm.TableData{{"PATH", "STATE"}}
	for _, e := range entries {
		data = append(data, []string{e.Path, string(e.State)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
