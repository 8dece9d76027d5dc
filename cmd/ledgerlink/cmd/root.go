package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledgerlink-reconciliation-service/cmd/ledgerlink/config"
	"ledgerlink-reconciliation-service/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ledgerlink",
	Short: "AR/AP reconciliation between two companies' ledgers",
	Long: `LedgerLink matches one company's accounts receivable against its
counterparty's accounts payable and reports perfect matches, mismatches,
unmatched items and historical insights.

Examples:
  ledgerlink reconcile --receivables xero.json --payables bills.csv --payable-date-format DD/MM/YYYY
  ledgerlink reconcile --receivables ar.csv --receivable-date-format YYYY-MM-DD \
    --payables bills.csv --payable-date-format DD/MM/YYYY --output-format json
  ledgerlink serve --config ledgerlink.yaml
  ledgerlink status --config ledgerlink.yaml
  ledgerlink generate --out ./fixtures --seed 42`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler(verbose).HandleError(err)
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("profile", config.ProfileDefault, "matching profile: default, strict, relaxed")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
}

// loadConfig reads the config file and environment, then installs the
// configured global logger
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.Setup(viper.GetViper(), cfgFile); err != nil {
		return err
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = loaded

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
