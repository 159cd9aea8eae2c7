package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/giantswarm/given/internal/formatting"
	"github.com/giantswarm/given/pkg/httpstep"
	"github.com/giantswarm/given/pkg/kafkastep"
	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/result"
	"github.com/giantswarm/given/pkg/scenario"
	"github.com/giantswarm/given/pkg/settings"
)

// DefaultCheckTimeout bounds each check of the check command.
const DefaultCheckTimeout = 10 * time.Second

// kafkaFactory is the broker client used by the check command; nil means the default.
var kafkaFactory kafkastep.ClientFactory

type checkOptions struct {
	timeout   time.Duration
	path      string
	skipHTTP  bool
	skipKafka bool
	quiet     bool
}

type checkStatus string

const (
	checkPassed  checkStatus = "passed"
	checkFailed  checkStatus = "failed"
	checkSkipped checkStatus = "skipped"
)

type checkResult struct {
	name    string
	target  string
	status  checkStatus
	detail  string
	elapsed time.Duration
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the configured HTTP service and brokers are reachable",
		Long: `Check runs a GET request against the configured HTTP base URL and fetches
cluster metadata from the configured Kafka bootstrap servers, using the
same settings and authentication a test run would use.

Examples:
  given check
  given check --path /healthz --timeout 5s
  given check --skip-kafka`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), settingsSource(), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", DefaultCheckTimeout, "Timeout of each check")
	cmd.Flags().StringVar(&opts.path, "path", "/", "Path requested from the HTTP base URL")
	cmd.Flags().BoolVar(&opts.skipHTTP, "skip-http", false, "Do not check the HTTP service")
	cmd.Flags().BoolVar(&opts.skipKafka, "skip-kafka", false, "Do not check the Kafka brokers")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress the progress spinner")
	return cmd
}

func runCheck(ctx context.Context, out, errOut io.Writer, src settings.Source, opts *checkOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := src.Load()
	if err != nil {
		return err
	}

	var sp *spinner.Spinner
	if !opts.quiet {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(errOut))
		sp.Suffix = " Checking connectivity..."
		sp.Start()
	}

	results := []checkResult{
		checkHTTP(ctx, src, st, opts),
		checkKafka(ctx, src, st, opts),
	}

	if sp != nil {
		sp.Stop()
	}
	printChecks(out, results)

	failed := 0
	for _, r := range results {
		if r.status == checkFailed {
			failed++
		}
	}
	if failed > 0 {
		return &checkFailedError{failed: failed}
	}
	return nil
}

func checkHTTP(ctx context.Context, src settings.Source, st *settings.Settings, opts *checkOptions) checkResult {
	res := checkResult{name: "http", target: st.HTTP.BaseURL}
	if opts.skipHTTP || st.HTTP.BaseURL == "" {
		res.status = checkSkipped
		res.detail = skipReason(opts.skipHTTP, "no base URL configured")
		return res
	}
	res.target = strings.TrimRight(st.HTTP.BaseURL, "/") + "/" + strings.TrimLeft(opts.path, "/")

	rep := &checkReporter{}
	s := scenario.Given(scenario.WithSettings(src), scenario.WithContext(ctx), scenario.WithTB(rep))
	start := time.Now()
	r := httpstep.Request(s).Resource(opts.path).WithTimeout(opts.timeout).Get().Then()
	res.elapsed = time.Since(start)
	if len(rep.errs) > 0 {
		logging.Debug("CLI", "HTTP check misconfigured: %s", strings.Join(rep.errs, "; "))
	}

	if r.Success() {
		res.status = checkPassed
		res.detail = r.Properties()[result.PropStatus]
		return res
	}
	res.status = checkFailed
	res.detail = strings.Join(r.Errors(), "; ")
	logging.Debug("CLI", "HTTP check failed: %s", res.detail)
	return res
}

func checkKafka(ctx context.Context, src settings.Source, st *settings.Settings, opts *checkOptions) checkResult {
	res := checkResult{name: "kafka", target: strings.Join(st.Kafka.BootstrapServers, ",")}
	if opts.skipKafka || len(st.Kafka.BootstrapServers) == 0 {
		res.status = checkSkipped
		res.detail = skipReason(opts.skipKafka, "no bootstrap servers configured")
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	sc := scenario.NewContext(src)
	start := time.Now()
	brokers, err := kafkastep.Ping(ctx, sc, kafkaFactory)
	res.elapsed = time.Since(start)
	if err != nil {
		res.status = checkFailed
		res.detail = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			res.detail = fmt.Sprintf("no response within %s", opts.timeout)
		}
		logging.Debug("CLI", "Kafka check failed: %v", err)
		return res
	}
	res.status = checkPassed
	res.detail = fmt.Sprintf("%d broker(s): %s", len(brokers), strings.Join(brokers, ","))
	return res
}

// checkReporter collects configuration errors so a misconfigured check
// fails like an unreachable target instead of panicking.
type checkReporter struct {
	errs []string
}

func (r *checkReporter) Helper() {}

func (r *checkReporter) Fatalf(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

func skipReason(flagged bool, reason string) string {
	if flagged {
		return "skipped by flag"
	}
	return reason
}

func printChecks(w io.Writer, results []checkResult) {
	t := formatting.NewTable(w, "CHECK", "TARGET", "STATUS", "DETAIL", "TIME")
	for _, r := range results {
		elapsed := ""
		if r.elapsed > 0 {
			elapsed = r.elapsed.Round(time.Millisecond).String()
		}
		t.AppendRow([]any{r.name, r.target, formatting.Status(string(r.status)), r.detail, elapsed})
	}
	t.Render()
}
