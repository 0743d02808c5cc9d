package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/warpdl/warpreq/cmd/common"
	"github.com/warpdl/warpreq/internal/config"
)

var (
	forceInit bool

	configInitFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "force, f",
			Usage:       "overwrite an existing config file",
			Destination: &forceInit,
		},
	}
)

func showConfig(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "config", "load", err)
		return err
	}
	data, err := cfg.Encode()
	if err != nil {
		common.PrintRuntimeErr(ctx, "config", "encode", err)
		return err
	}
	_, err = common.Output.Write(data)
	return err
}

func initConfig(ctx *cli.Context) error {
	path := ctx.GlobalString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	if ok, _ := afero.Exists(appFs, path); ok && !forceInit {
		fmt.Fprintf(common.Output, "%s: %s already exists, use --force to overwrite\n", ctx.App.HelpName, path)
		return nil
	}
	if err := config.Save(appFs, path, config.Default()); err != nil {
		common.PrintRuntimeErr(ctx, "config", "save", err)
		return err
	}
	fmt.Fprintf(common.Output, "Wrote default configuration to %s\n", path)
	return nil
}
