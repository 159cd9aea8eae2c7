package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/settings"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeCheckFailed indicates that at least one connectivity check failed.
	ExitCodeCheckFailed = 2
)

const envPrefix = "GIVEN"

// rootCmd represents the base command for the given application.
var rootCmd *cobra.Command

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "given",
		Short: "Inspect and check the environment of given integration tests",
		Long: `given runs the supporting tasks of Given/When/Then integration tests
written with the given libraries: it shows the settings a test run would use
and checks that the configured HTTP service and Kafka brokers are reachable.`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging()
		},
	}

	cmd.PersistentFlags().String("settings", "", "Settings file (default: "+settings.EnvVar+" or discovered "+strings.Join(settings.FileNames, ", ")+")")
	cmd.PersistentFlags().String("log-level", settings.DefaultLogLevel, "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag("settings", cmd.PersistentFlags().Lookup("settings"))
	_ = viper.BindPFlag("log-level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

func init() {
	rootCmd = newRootCmd()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "given version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// checkFailedError is returned by the check command when a check failed.
type checkFailedError struct {
	failed int
}

func (e *checkFailedError) Error() string {
	return fmt.Sprintf("%d check(s) failed", e.failed)
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if _, ok := err.(*checkFailedError); ok {
		return ExitCodeCheckFailed
	}
	return ExitCodeError
}

func initLogging() error {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logging.InitForCLI(level, os.Stderr)
	return nil
}

// settingsSource returns the cache the commands load settings from. The
// --settings flag (or GIVEN_SETTINGS) pins the file; otherwise it is discovered.
func settingsSource() *settings.Cache {
	if path := viper.GetString("settings"); path != "" {
		return settings.NewCache(settings.WithPath(path))
	}
	return settings.NewCache()
}
