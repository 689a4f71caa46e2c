package cli

import (
	"errors"
	"os"

	"github.com/advancex/advx/internal/common/logtrace"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	yamlOutput bool
	configFile string
	logLevel   string
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var warnLabel = color.New(color.FgYellow)

const cliVersion = "v0.1.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advx [command] [flags]",
		Short: "advx - command line client for the AdvanceX business-management backend",
		Long: `advx is a command line client for the AdvanceX business-management backend.
It signs in, keeps the session valid, and manages users, outlets, services,
their access mappings and the dashboard.

Examples:
  # Sign in
  advx login --email me@example.com

  # List outlets of the signed-in client
  advx outlets list --client-id 7 --status all

  # Create a service from a YAML file
  advx services create -f service.yaml

  # Map a user to an outlet
  advx mappings user-outlet create --set user_id=10 --set outlet_id=101 --set client_id=1`,
		PersistentPreRunE: preRunHandlePersistents,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			releaseRuntime()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
		SilenceErrors: true, // Prevent Cobra from printing the error
		SilenceUsage:  true, // Prevent Cobra from printing usage on error
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	cmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&yamlOutput, "yaml", "y", false, "Output in YAML format")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newVerifyOTPCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newSessionCmd())
	for _, rc := range adminResources {
		cmd.AddCommand(newResourceCmd(rc))
	}
	cmd.AddCommand(newMappingsCmd())
	cmd.AddCommand(newDashboardCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		printError(rootCmd, err)
		os.Exit(1)
	}
}

func printError(cmd *cobra.Command, err error) {
	if jsonOutput {
		printJSON(cmd, map[string]string{"error": err.Error()})
		return
	}
	errorLabel.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}

// preRunHandlePersistents loads the configuration, sets up logging and
// applies the sign-in guard before command execution.
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	releaseRuntime()

	if err := LoadConfig(configFile); err != nil {
		if !isConfigCommand(cmd) {
			return err
		}
		config = DefaultConfig()
	}

	level := logLevel
	if level == "" {
		level = GetConfig().LogLevel
	}
	logtrace.InitLogger(level)

	if requiresAuth(cmd) {
		rt, err := getRuntime()
		if err != nil {
			return err
		}
		if !rt.session.SignedIn() {
			return ErrNotSignedIn
		}
	}
	return nil
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" || c.Name() == "version" {
			return true
		}
	}
	return false
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of advx",
		Run: func(cmd *cobra.Command, args []string) {
			configPath, err := configPath()
			if err != nil {
				configPath = "unknown"
			}

			if jsonOutput {
				printJSON(cmd, map[string]string{
					"version":     cliVersion,
					"config_file": configPath,
				})
			} else {
				cmd.Printf("advx CLI %s\n", cliVersion)
				cmd.Printf("Config file: %s\n", configPath)
			}
		},
	}
}

func printOK(cmd *cobra.Command, format string, a ...any) {
	okLabel.Fprintf(cmd.OutOrStdout(), "✓ "+format+"\n", a...)
}
