package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/warpdl/warpreq/cmd/common"
	"github.com/warpdl/warpreq/internal/history"
)

var (
	forceFlush bool

	flsFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "force, f",
			Usage:       "use this flag to force flush (default: false)",
			Destination: &forceFlush,
		},
	}
)

func flush(ctx *cli.Context) error {
	if !confirm(command("flush"), forceFlush) {
		return nil
	}
	err := withHistory(ctx, func(s *history.Store) error {
		n, err := s.Clear(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(common.Output, "Flushed %d history %s!\n", n, plural(int(n), "entry", "entries"))
		return nil
	})
	if err != nil {
		common.PrintRuntimeErr(ctx, "flush", "clear", err)
	}
	return nil
}
