package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// envPrefix namespaces environment overrides, e.g. RATESTRESS_URL or RATESTRESS_SUMMARY_DIR.
const envPrefix = "RATESTRESS"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "ratestress",
	Short:   "Stress test for the TWD currency-rate endpoint",
	Version: version,
	Long: `ratestress drives a staged virtual-user load against the TWD currency-rate
document, checks every response and reports whether the endpoint meets its
throughput, error-rate and latency targets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is provided, print help
		cmd.Help()
	},
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	err := RootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// newEnv returns a viper instance bound to cmd's flags, with RATESTRESS_* environment
// variables as fallback for flags left unset.
func newEnv(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

func init() {
	// Add subcommands to root command
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(stagesCmd)
}
