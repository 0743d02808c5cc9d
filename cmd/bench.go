package cmd

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/warpdl/warpreq/cmd/common"
	"github.com/warpdl/warpreq/internal/config"
	"github.com/warpdl/warpreq/pkg/reqlib"
	"github.com/warpdl/warpreq/pkg/retry"
)

var benchFlags = append(append([]cli.Flag{
	cli.IntFlag{
		Name:  "requests, n",
		Usage: "number of requests to send",
		Value: 100,
	},
	cli.IntFlag{
		Name:  "concurrency, c",
		Usage: "maximum requests in flight (default: from config)",
	},
	cli.BoolFlag{
		Name:  "quiet, q",
		Usage: "do not render the progress bar",
	},
}, requestFlags...), retryFlags...)

// benchStats aggregates the outcome of every bench request.
type benchStats struct {
	mu        sync.Mutex
	ok        int
	failed    int
	retries   int
	bytes     uint64
	codes     map[int]int
	failures  map[string]int
	latencies []time.Duration
}

func newBenchStats(n int) *benchStats {
	return &benchStats{
		codes:     make(map[int]int),
		failures:  make(map[string]int),
		latencies: make([]time.Duration, 0, n),
	}
}

func (s *benchStats) add(req *reqlib.Request, resp *reqlib.Response, succeeded bool, latency time.Duration, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries += retries
	s.latencies = append(s.latencies, latency)
	if resp != nil {
		s.codes[resp.Code]++
		s.bytes += uint64(len(resp.Body))
	}
	if succeeded && resp.OK() {
		s.ok++
		return
	}
	s.failed++
	if resp == nil {
		s.failures[req.FailureReason().String()]++
	}
}

func (s *benchStats) submitFailed(err error) {
	s.mu.Lock()
	s.failed++
	s.failures[err.Error()]++
	s.mu.Unlock()
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(math.Ceil(p*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	return sorted[i]
}

func (s *benchStats) print(w io.Writer, n int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := float64(n) / elapsed.Seconds()
	fmt.Fprintf(w, "\nRequests\t: %d in %s (%.1f req/s)\n", n, elapsed.Round(time.Millisecond), rate)
	fmt.Fprintf(w, "Succeeded\t: %d\n", s.ok)
	fmt.Fprintf(w, "Failed\t\t: %d\n", s.failed)
	fmt.Fprintf(w, "Retries\t\t: %d\n", s.retries)
	fmt.Fprintf(w, "Received\t: %s\n", humanize.Bytes(s.bytes))

	if len(s.latencies) > 0 {
		lat := append([]time.Duration(nil), s.latencies...)
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		round := func(d time.Duration) time.Duration { return d.Round(time.Microsecond * 100) }
		fmt.Fprintf(w, "Latency\t\t: min %s, p50 %s, p90 %s, p99 %s, max %s\n",
			round(lat[0]), round(percentile(lat, 0.5)), round(percentile(lat, 0.9)),
			round(percentile(lat, 0.99)), round(lat[len(lat)-1]))
	}

	if len(s.codes) > 0 {
		codes := make([]int, 0, len(s.codes))
		for c := range s.codes {
			codes = append(codes, c)
		}
		sort.Ints(codes)
		fmt.Fprintln(w, "Status codes:")
		for _, c := range codes {
			fmt.Fprintf(w, "  %d\t: %s\n", c, humanize.Comma(int64(s.codes[c])))
		}
	}
	if len(s.failures) > 0 {
		reasons := make([]string, 0, len(s.failures))
		for r := range s.failures {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		fmt.Fprintln(w, "Failures:")
		for _, r := range reasons {
			fmt.Fprintf(w, "  %s\t: %d\n", r, s.failures[r])
		}
	}
}

func bench(ctx *cli.Context) error {
	url := ctx.Args().First()
	if url == "" {
		return common.PrintErrWithCmdHelp(
			ctx,
			errors.New("no url provided"),
		)
	} else if url == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	n := ctx.Int("requests")
	if n <= 0 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("requests must be positive"))
	}
	header, err := parseHeaders(ctx.StringSlice("header"))
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}

	e, err := newEnv(ctx, func(c *config.Config) {
		retryOverrides(ctx)(c)
		if ctx.IsSet("concurrency") {
			c.Manager.MaxConcurrentRequests = ctx.Int("concurrency")
		}
	})
	if err != nil {
		common.PrintRuntimeErr(ctx, "bench", "init", err)
		return err
	}
	defer e.Close()

	fmt.Fprintf(common.Output, "%s: sending %d requests to %s with up to %d in flight\n",
		ctx.App.HelpName, n, url, e.reqs.Worker().MaxConcurrentRequests())

	var (
		p   *mpb.Progress
		bar *mpb.Bar
	)
	if !ctx.Bool("quiet") {
		p = mpb.New(mpb.WithOutput(common.Output), mpb.WithWidth(64))
		bar = common.InitBar(p, "", int64(n))
	}
	stats := newBenchStats(n)
	var wg sync.WaitGroup
	wg.Add(n)
	tick := func() {
		if bar != nil {
			bar.Increment()
		}
		wg.Done()
	}

	method := strings.ToUpper(ctx.String("method"))
	body := []byte(ctx.String("data"))
	start := time.Now()
	for i := 0; i < n; i++ {
		var r *retry.Request
		r = e.retries.NewRequest(method, url, &retry.RequestOpts{
			Header: header,
			Body:   body,
			Handlers: &reqlib.Handlers{
				CompleteHandler: func(req *reqlib.Request, resp *reqlib.Response, succeeded bool) {
					retries, _ := r.Retries()
					stats.add(req, resp, succeeded, time.Since(r.StartTime()), retries)
					tick()
				},
			},
		})
		if err := r.ProcessRequest(); err != nil {
			stats.submitFailed(err)
			tick()
		}
	}
	wg.Wait()
	elapsed := time.Since(start)
	if p != nil {
		p.Wait()
	}

	stats.print(common.Output, n, elapsed)
	return nil
}
