package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/habedi/sessync/client"
	"github.com/habedi/sessync/pkg/clierr"
	"github.com/habedi/sessync/pkg/pool"
	"github.com/habedi/sessync/pkg/validation"
	"github.com/habedi/sessync/session"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// burstCmd fires many GETs at once so an expired token triggers exactly one
// refresh shared by all of them.
func burstCmd(cfg *settings) *cobra.Command {
	var count, concurrency int
	var rate float64

	cmd := &cobra.Command{
		Use:   "burst [url]",
		Short: "Send many concurrent authenticated GET requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if err := validation.ValidateEndpoint("url", target); err != nil {
				return clierr.New(clierr.Validation, err.Error(), err)
			}
			if count < 1 {
				return clierr.New(clierr.Validation, "Number of requests must be at least 1.", nil)
			}
			if err := validation.ValidateWorkerCount(concurrency); err != nil {
				return clierr.New(clierr.Validation, fmt.Sprintf("Concurrency must be between %d and %d.", validation.MinWorkers, validation.MaxWorkers), err)
			}
			if err := cfg.requireRefreshURL(); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			sess, closeSession, err := openSession(cmd.Context(), cfg, session.Options{
				Client: client.Config{Registerer: reg},
			})
			if err != nil {
				return err
			}
			defer closeSession()

			bar := progressbar.NewOptions(count,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Sending requests..."),
				progressbar.OptionSetWidth(20),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionClearOnFinish(),
			)

			r := &burstRun{
				client:   sess.HTTPClient(),
				limiter:  client.NewRateLimiter(rate),
				target:   target,
				statuses: make([]int, count),
				onDone:   func() { _ = bar.Add(1) },
			}
			errs := r.run(cmd.Context(), concurrency)
			_ = bar.Finish()

			renderBurstSummary(cmd.OutOrStdout(), r.statuses, errs, gatherCounter(reg, "sessync_refresh_cycles_total"))
			if len(errs) > 0 {
				return classify(errs[0])
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "requests", "n", 10, "Number of requests to send")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "t", 5, "Number of requests in flight at once [1-32]")
	cmd.Flags().Float64VarP(&rate, "rate", "r", 0, "Maximum requests per second, halved on every 429; 0 means unlimited")

	return cmd
}

type burstRun struct {
	client   *http.Client
	limiter  *client.RateLimiter
	target   string
	statuses []int // 0 when the request failed
	onDone   func()
}

func (r *burstRun) run(ctx context.Context, concurrency int) []error {
	items := make([]int, len(r.statuses))
	for i := range items {
		items[i] = i
	}
	return pool.Run(ctx, items, concurrency, func(ctx context.Context, i int) error {
		if r.onDone != nil {
			defer r.onDone()
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.target, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			log.Debug().Err(err).Int("request", i).Msg("Burst request failed")
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		r.statuses[i] = resp.StatusCode
		if resp.StatusCode == http.StatusTooManyRequests && r.limiter != nil {
			r.limiter.SetRate(r.limiter.Limit() / 2)
			log.Warn().Float64("rate", r.limiter.Limit()).Msg("Server is throttling, slowing down")
		}
		return nil
	})
}

func renderBurstSummary(w io.Writer, statuses []int, errs []error, refreshes float64) {
	tally := make(map[int]int)
	for _, s := range statuses {
		if s != 0 {
			tally[s]++
		}
	}
	codes := make([]int, 0, len(tally))
	for code := range tally {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Outcome", "Count"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	for _, code := range codes {
		table.Append([]string{fmt.Sprintf("HTTP %d %s", code, http.StatusText(code)), strconv.Itoa(tally[code])})
	}
	if len(errs) > 0 {
		table.Append([]string{"Failed", strconv.Itoa(len(errs))})
	}
	table.Append([]string{"Token refreshes", strconv.FormatFloat(refreshes, 'f', 0, 64)})
	table.Render()
}

// gatherCounter sums every series of the counter called name.
func gatherCounter(reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to gather metrics")
		return 0
	}
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
