package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/engine"
	"github.com/wesleyorama2/ratestress/internal/harness/output"
	"github.com/wesleyorama2/ratestress/internal/scenario"
)

// Progress update intervals for interactive and piped output.
const (
	ttyUpdateInterval  = time.Second
	lineUpdateInterval = 10 * time.Second
)

// errVerdictFailed is returned when a threshold or acceptance criterion fails.
var errVerdictFailed = errors.New("stress test failed: thresholds or acceptance criteria not met")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the currency-rate stress test",
	Long: `Run the staged stress test against the TWD currency-rate document.

The default schedule ramps 1 -> 10 -> 20 VUs, holds a single VU for a minute and
cools down over 200 seconds. Every flag can also be set through the environment,
e.g. RATESTRESS_URL or RATESTRESS_SUMMARY_DIR.

Default schedule:
  ratestress run

Against a local server with a short schedule:
  ratestress run --url http://localhost:8080/twd.json --stages "5s:2,10s:2,5s:0"

Constant load:
  ratestress run --vus 5 --duration 1m

The process exits with status 1 when a threshold or acceptance criterion fails,
unless --advisory is set.`,
	RunE: runStress,
}

func runStress(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	overrides, err := overridesFromEnv(env)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	eng := engine.New(scenario.NewCurrencyRates(), engine.Options{
		Overrides: overrides,
		Stdout:    cmd.OutOrStdout(),
		OutputDir: env.GetString("summary-dir"),
	})

	opts, err := eng.Prepare()
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	noColor := env.GetBool("no-color")
	if noColor {
		color.NoColor = true
	}

	console := output.NewConsole(output.ConsoleConfig{
		TestName:      opts.Name,
		ExecutorType:  opts.Executor,
		Target:        opts.Target,
		TotalDuration: opts.TotalDuration(),
		MaxVUs:        opts.MaxVUs(),
		Writer:        cmd.ErrOrStderr(),
		Quiet:         env.GetBool("quiet"),
		NoColor:       noColor,
	})
	console.PrintHeader()

	// Interrupting stops the load early; the partial run is still summarized.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := lineUpdateInterval
	if console.IsTTY() {
		interval = ttyUpdateInterval
	}
	result, runErr := runWithProgress(ctx, eng, console, interval)
	console.FinishProgress()

	if result == nil {
		return runErr
	}
	console.PrintResult(result)
	if runErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", runErr)
	}

	if verdictPassed(result) || env.GetBool("advisory") {
		return nil
	}
	return &ExitError{Code: 1, Err: errVerdictFailed}
}

// verdictPassed combines the threshold outcome with the acceptance criteria.
func verdictPassed(result *engine.Result) bool {
	if !result.Passed || result.Summary == nil {
		return false
	}
	return scenario.EvaluateAcceptance(result.Summary).Passed()
}

// runWithProgress runs the engine and prints a progress update every interval
// while it is running.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.Console, interval time.Duration) (*engine.Result, error) {
	type outcome struct {
		result *engine.Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := eng.Run(ctx)
		done <- outcome{result: result, err: err}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			if eng.IsRunning() {
				console.Update(output.StatsFromMetrics(eng.GetMetrics(), eng.GetProgress(), eng.GetStats()))
			}
		}
	}
}

// overridesFromEnv builds the option overrides from an optional config file and the
// individual flags (or their RATESTRESS_* variables). Flags win over the file.
func overridesFromEnv(env *viper.Viper) (*config.Options, error) {
	overrides := &config.Options{}
	if path := env.GetString("config"); path != "" {
		loaded, err := config.LoadOptions(path)
		if err != nil {
			return nil, err
		}
		overrides = loaded
	}

	if url := env.GetString("url"); url != "" {
		overrides.Target = url
	}
	if executor := env.GetString("executor"); executor != "" {
		overrides.Executor = executor
	}
	if stages := env.GetString("stages"); stages != "" {
		parsed, err := parseStages(stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		overrides.Stages = parsed
	}
	if vus := env.GetInt("vus"); vus > 0 {
		overrides.VUs = vus
	}
	if duration := env.GetString("duration"); duration != "" {
		d, err := config.ParseDurationString(duration)
		if err != nil {
			return nil, err
		}
		overrides.Duration = config.Duration(d)
	}

	// --vus or --duration alone selects a constant load.
	if overrides.Executor == "" && len(overrides.Stages) == 0 && (overrides.VUs > 0 || overrides.Duration > 0) {
		overrides.Executor = "constant-vus"
	}

	if seed := env.GetInt64("seed"); seed != 0 {
		overrides.Seed = seed
	}
	if schema := env.GetString("schema"); schema != "" {
		overrides.Schema = schema
	}
	if timeout := env.GetDuration("timeout"); timeout > 0 {
		overrides.Settings.Timeout = config.Duration(timeout)
	}
	if env.GetBool("insecure") {
		overrides.Settings.InsecureSkipVerify = true
	}

	return overrides, nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Parse "duration:target" format
		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		d, err := config.ParseDurationString(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// addOptionFlags registers the flags that shape the effective options.
func addOptionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Options file (YAML or JSON) overriding the built-in schedule")
	cmd.Flags().StringP("url", "u", "", "Currency document URL (default: the public TWD document)")
	cmd.Flags().String("executor", "", "Executor type: ramping-vus or constant-vus")
	cmd.Flags().String("stages", "", "Stages in format 'duration:target,duration:target,...'")
	cmd.Flags().Int("vus", 0, "Number of virtual users for constant-vus")
	cmd.Flags().String("duration", "", "Test duration for constant-vus (e.g., 5m, 30s)")
}

func init() {
	addOptionFlags(runCmd)

	runCmd.Flags().Int64("seed", 0, "Seed for per-VU think time (0 picks one from the clock)")
	runCmd.Flags().String("schema", "", "JSON schema file the body must match, or 'builtin'")
	runCmd.Flags().DurationP("timeout", "t", 0, "Request timeout (default 60s)")
	runCmd.Flags().Bool("insecure", false, "Skip TLS certificate verification")
	runCmd.Flags().String("summary-dir", "", "Directory for "+scenario.SummaryFile+" (default: working directory)")
	runCmd.Flags().BoolP("quiet", "q", false, "Disable live progress output, show only the final status")
	runCmd.Flags().Bool("no-color", false, "Disable colored output")
	runCmd.Flags().Bool("advisory", false, "Report failed criteria without failing the exit status")
}
