package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/logger"
	"github.com/openkql/kqlgate/pkg/session"
)

var (
	version = "0.2.0"
	// Build information variables
	GitCommit = "unknown" // Git commit hash
	BuildTime = "unknown" // Build timestamp
)

var (
	cfg  *config.Config
	sess *session.Session

	flagConnection   string
	flagSettingsFile string
	flagLogLevel     string
	flagNoValidate   bool
)

// printVersionInfo displays detailed version information
func printVersionInfo() {
	fmt.Printf("kqlgate v%s\n", version)
	fmt.Printf("Built: %s, from commit: %s\n", BuildTime, GitCommit)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kqlgate",
	Short: "KQL gateway command line interface",
	Long: "Connect to Kusto, Application Insights, and Log Analytics backends with " +
		"a single connection-string grammar and run KQL queries against them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Lookup("version") != nil && cmd.Flags().Lookup("version").Changed {
			printVersionInfo()
			return nil
		}
		return startREPL()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConnection, "connection", "c", "", "Connection descriptor (connection string, name, or [settings section])")
	rootCmd.PersistentFlags().StringVar(&flagSettingsFile, "settings", os.ExpandEnv("$HOME/.kqlgate/settings.yaml"), "Path to settings file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagNoValidate, "no-validate", false, "Skip the connection validation probe")

	rootCmd.Flags().Bool("version", false, "Show version information and exit")

	cobra.OnInitialize(func() {
		log := logger.New("kqlgate")
		log.SetLevel(logger.ParseLevel(flagLogLevel))

		cfg = config.New()
		cfg.Set(config.KeySettingsFile, flagSettingsFile)
		if flagNoValidate {
			cfg.Set(config.KeyValidateOnConnect, "false")
		}
		sess = session.New(cfg, session.WithLogger(log))
	})

	setupCommands()
}

func main() {
	Execute()
}
