package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/warpdl/warpreq/cmd/common"
	corecommon "github.com/warpdl/warpreq/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config",
		Usage:  "path of the YAML config file",
		EnvVar: corecommon.ConfigEnv,
	},
	cli.BoolFlag{
		Name:  "debug",
		Usage: "log at debug level",
	},
	cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "serve prometheus metrics and /healthz on this address, e.g. :9090",
	},
}

func Execute(args []string, bArgs BuildArgs) error {
	app := cli.App{
		Name:                  "warpreq",
		HelpName:              "warpreq",
		Usage:                 "A retrying HTTP request manager.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "warpreq [global options] <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Writer:                common.Output,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:                   "get",
				Aliases:                []string{"g"},
				Usage:                  "send a request and print the response",
				UsageText:              "[flags] <url>",
				Action:                 get,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            GetDescription,
				Flags:                  getFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:                   "bench",
				Aliases:                []string{"b"},
				Usage:                  "send a batch of requests and report latency",
				UsageText:              "[flags] <url>",
				Action:                 bench,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            BenchDescription,
				Flags:                  benchFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "history",
				Aliases:            []string{"l"},
				Usage:              "display the request history",
				UsageText:          "[flags] [request id]",
				Action:             historyList,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        HistoryDescription,
				Flags:              historyFlags,
			},
			{
				Name:                   "flush",
				Aliases:                []string{"c"},
				Usage:                  "flush the request history",
				Description:            FlushDescription,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Action:                 flush,
				UseShortOptionHandling: true,
				Flags:                  flsFlags,
			},
			{
				Name:               "config",
				Usage:              "print the effective configuration",
				Description:        ConfigDescription,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             showConfig,
				Subcommands: []cli.Command{
					{
						Name:   "init",
						Usage:  "write the default configuration file",
						Action: initConfig,
						Flags:  configInitFlags,
					},
				},
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of warpreq",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
