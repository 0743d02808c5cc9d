package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/warpdl/warpreq/cmd/common"
	"github.com/warpdl/warpreq/internal/history"
)

var (
	historyLimit int
	historyPage  int

	historyFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "limit, n",
			Usage:       "number of attempts per page",
			Value:       20,
			Destination: &historyLimit,
		},
		cli.IntFlag{
			Name:        "page, p",
			Usage:       "page to show, newest first",
			Value:       1,
			Destination: &historyPage,
		},
	}
)

var errHistoryDisabled = errors.New("request history is disabled in the configuration")

// withHistory opens the configured history store for the duration of fn.
func withHistory(ctx *cli.Context, fn func(*history.Store) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return errHistoryDisabled
	}
	defer store.Close()
	return fn(store)
}

func recordResult(r *history.Record) string {
	if r.Code != nil {
		return strconv.Itoa(*r.Code)
	}
	if r.Reason != "none" {
		return r.Reason
	}
	return r.Status
}

func historyList(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if historyLimit <= 0 || historyPage <= 0 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("limit and page must be positive"))
	}
	err := withHistory(ctx, func(s *history.Store) error {
		if id != "" {
			return printAttempts(ctx, s, id)
		}
		recs, total, err := s.List(context.Background(), historyLimit, (historyPage-1)*historyLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(common.Output, "warpreq: no requests found")
			return nil
		}
		txt := fmt.Sprintf("Showing %d of %d attempts:", len(recs), total)
		txt += "\n\n-------------------------------------------------------------------------------------"
		txt += "\n| Num |  Request  | Verb |             URL              | Result |  Elapsed |   When   |"
		txt += "\n|-----|-----------|------|------------------------------|--------|----------|----------|"
		offset := (historyPage - 1) * historyLimit
		for i, r := range recs {
			txt += fmt.Sprintf("\n| %s | %s | %s | %s | %s | %s | %s |",
				common.Beaut(strconv.Itoa(offset+i+1), 3),
				common.Clip(shortID(r.RequestID), 9),
				common.Clip(r.Verb, 4),
				common.Clip(r.URL, 28),
				common.Clip(recordResult(r), 6),
				common.Clip(r.Elapsed.Round(time.Millisecond).String(), 8),
				common.Clip(humanize.Time(r.CompletedAt), 8),
			)
		}
		txt += "\n-------------------------------------------------------------------------------------"
		fmt.Fprintln(common.Output, txt)
		return nil
	})
	if err != nil {
		common.PrintRuntimeErr(ctx, "history", "list", err)
	}
	return nil
}

func printAttempts(ctx *cli.Context, s *history.Store, id string) error {
	recs, err := s.Attempts(context.Background(), id)
	if errors.Is(err, history.ErrNotFound) {
		fmt.Fprintf(common.Output, "%s: no attempts recorded for %s\n", ctx.App.HelpName, id)
		return nil
	}
	if err != nil {
		return err
	}
	first := recs[0]
	fmt.Fprintf(common.Output, "Request %s\n%s %s\n\n", id, first.Verb, first.URL)
	for i, r := range recs {
		fmt.Fprintf(common.Output, "Attempt %d\t: %s (%s), %s, waited %s, %s\n",
			i+1, recordResult(r), r.Status,
			r.Elapsed.Round(time.Millisecond), r.Waited.Round(time.Millisecond),
			humanize.Bytes(uint64(r.Bytes)),
		)
		if r.Error != nil {
			fmt.Fprintf(common.Output, "\t\t  %s\n", *r.Error)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
