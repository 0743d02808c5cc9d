package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/warpdl/warpreq/cmd/common"
)

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}

Global Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

// confirmInput is read by confirm; tests replace it.
var confirmInput io.Reader = os.Stdin

type (
	confirmAction interface {
		action() string
	}
	command string
)

func (a command) action() string {
	return strings.Join([]string{string(a), "command"}, " ")
}

func confirm(c confirmAction, force ...bool) bool {
	if len(force) != 0 && force[0] {
		return true
	}
	fmt.Fprintf(common.Output, "Are you sure you want to proceed with the %s? (yes/no): ", c.action())
	var i string
	_, _ = fmt.Fscanf(confirmInput, "%s", &i)
	i = strings.ToLower(i)
	switch i {
	case "yes", "y", "true", "1":
		return true
	default:
		fmt.Fprintf(common.Output, "Cancelled %s operation!\n", c)
		return false
	}
}
