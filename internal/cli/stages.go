package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/engine"
	"github.com/wesleyorama2/ratestress/internal/scenario"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Print the effective load schedule without running it",
	Long: `Print the load schedule the run command would execute, after applying the
same --config, --stages, --vus and --duration overrides, with the offset at
which each stage starts and ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd)
		if err != nil {
			return err
		}
		overrides, err := overridesFromEnv(env)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}

		opts, err := engine.New(scenario.NewCurrencyRates(), engine.Options{Overrides: overrides}).Prepare()
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}

		printSchedule(cmd.OutOrStdout(), opts)
		return nil
	},
}

// printSchedule writes one line per stage with cumulative start and end offsets.
func printSchedule(w io.Writer, opts *config.Options) {
	fmt.Fprintf(w, "%s [%s] -> %s\n", opts.Name, opts.Executor, opts.Target)

	if opts.Executor == "constant-vus" {
		fmt.Fprintf(w, "  %d VUs for %s\n", opts.VUs, opts.Duration)
		return
	}

	var offset time.Duration
	prev := 0
	for i, stage := range opts.Stages {
		end := offset + stage.Duration.Std()
		fmt.Fprintf(w, "  %d. %-10s %8s -> %-8s %3d -> %3d VUs\n",
			i+1, stage.Name, offset, end, prev, stage.Target)
		offset = end
		prev = stage.Target
	}
	fmt.Fprintf(w, "  total %s, max %d VUs\n", opts.TotalDuration(), opts.MaxVUs())
}

func init() {
	addOptionFlags(stagesCmd)
}
