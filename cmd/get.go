package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/warpdl/warpreq/cmd/common"
	"github.com/warpdl/warpreq/internal/config"
	"github.com/warpdl/warpreq/pkg/reqlib"
	"github.com/warpdl/warpreq/pkg/retry"
)

var errRequestFailed = errors.New("request failed")

var (
	requestFlags = []cli.Flag{
		cli.StringFlag{
			Name:  "method, X",
			Usage: "HTTP method to use",
			Value: http.MethodGet,
		},
		cli.StringSliceFlag{
			Name:  "header, H",
			Usage: `add a request header, e.g. -H "Accept: application/json"`,
		},
		cli.StringFlag{
			Name:  "data, d",
			Usage: "request body",
		},
	}

	retryFlags = []cli.Flag{
		cli.IntFlag{
			Name:  "max-retries, r",
			Usage: "maximum number of retries (default: from config)",
		},
		cli.IntFlag{
			Name:  "conn-retries",
			Usage: "separate retry limit for connection errors (default: from config)",
		},
		cli.DurationFlag{
			Name:  "timeout, t",
			Usage: "total time budget across every attempt, e.g. 30s (default: from config)",
		},
		cli.DurationFlag{
			Name:  "max-backoff",
			Usage: "upper bound of a single backoff wait (default: from config)",
		},
		cli.StringSliceFlag{
			Name:  "domain",
			Usage: "mirror host to fail over to on connection errors, repeatable",
		},
		cli.BoolFlag{
			Name:  "no-history",
			Usage: "do not record attempts in the request history",
		},
	}

	getFlags = append(append([]cli.Flag{
		cli.StringFlag{
			Name:  "output, o",
			Usage: "write the response body to this file instead of stdout",
		},
		cli.BoolFlag{
			Name:  "include, i",
			Usage: "print the response status line and headers",
		},
	}, requestFlags...), retryFlags...)
)

// retryOverrides applies the retry flags of ctx on top of the loaded config.
func retryOverrides(ctx *cli.Context) func(*config.Config) {
	return func(c *config.Config) {
		if ctx.IsSet("max-retries") {
			n := ctx.Int("max-retries")
			c.Retry.MaxRetries = &n
		}
		if ctx.IsSet("conn-retries") {
			n := ctx.Int("conn-retries")
			c.Retry.MaxRetriesForConnectionError = &n
		}
		if ctx.IsSet("timeout") {
			c.Retry.RelativeTimeout = ctx.Duration("timeout")
		}
		if ctx.IsSet("max-backoff") {
			c.Retry.Backoff.MaxBackoff = ctx.Duration("max-backoff")
		}
		if d := ctx.StringSlice("domain"); len(d) > 0 {
			c.Retry.Domains = d
		}
		if ctx.Bool("no-history") {
			c.History.Disabled = true
		}
	}
}

func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

// describe names the outcome of an attempt: the status line when a
// response arrived, the failure reason otherwise.
func describe(req *reqlib.Request, resp *reqlib.Response) string {
	if resp != nil {
		return fmt.Sprintf("%d %s", resp.Code, http.StatusText(resp.Code))
	}
	return req.FailureReason().String()
}

type outcome struct {
	req       *reqlib.Request
	resp      *reqlib.Response
	succeeded bool
}

func get(ctx *cli.Context) error {
	url := ctx.Args().First()
	if url == "" {
		return common.PrintErrWithCmdHelp(
			ctx,
			errors.New("no url provided"),
		)
	} else if url == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	header, err := parseHeaders(ctx.StringSlice("header"))
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}

	e, err := newEnv(ctx, retryOverrides(ctx))
	if err != nil {
		common.PrintRuntimeErr(ctx, "get", "init", err)
		return err
	}
	defer e.Close()

	done := make(chan outcome, 1)
	r := e.retries.NewRequest(strings.ToUpper(ctx.String("method")), url, &retry.RequestOpts{
		Header: header,
		Body:   []byte(ctx.String("data")),
		Handlers: &reqlib.Handlers{
			WillRetryHandler: func(req *reqlib.Request, resp *reqlib.Response, lockout time.Duration) {
				fmt.Fprintf(logOutput, "%s: %s, retrying in %s\n", ctx.App.HelpName, describe(req, resp), lockout.Round(time.Millisecond))
			},
			CompleteHandler: func(req *reqlib.Request, resp *reqlib.Response, succeeded bool) {
				done <- outcome{req: req, resp: resp, succeeded: succeeded}
			},
		},
	})
	if err := r.ProcessRequest(); err != nil {
		common.PrintRuntimeErr(ctx, "get", "submit", err)
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	var o outcome
	select {
	case o = <-done:
	case <-sig:
		r.CancelRequest()
		o = <-done
	}

	total, _ := r.Retries()
	result := describe(o.req, o.resp)
	if o.resp != nil {
		result += ", " + humanize.Bytes(uint64(len(o.resp.Body)))
	}
	fmt.Fprintf(logOutput, "%s %s: %s in %s after %d %s\n",
		o.req.Verb(), o.req.URL(), result,
		time.Since(r.StartTime()).Round(time.Millisecond),
		total, plural(total, "retry", "retries"),
	)

	if o.resp != nil {
		if err := writeResponse(ctx, o.resp); err != nil {
			common.PrintRuntimeErr(ctx, "get", "write", err)
			return err
		}
	}
	if !o.succeeded || !o.resp.OK() {
		return fmt.Errorf("%w: %s", errRequestFailed, result)
	}
	return nil
}

func writeResponse(ctx *cli.Context, resp *reqlib.Response) error {
	if ctx.Bool("include") {
		fmt.Fprintf(common.Output, "HTTP %d %s\n", resp.Code, http.StatusText(resp.Code))
		names := make([]string, 0, len(resp.Header))
		for name := range resp.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, v := range resp.Header[name] {
				fmt.Fprintf(common.Output, "%s: %s\n", name, v)
			}
		}
		fmt.Fprintln(common.Output)
	}
	if path := ctx.String("output"); path != "" {
		return afero.WriteFile(appFs, path, resp.Body, 0o644)
	}
	_, err := common.Output.Write(resp.Body)
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
