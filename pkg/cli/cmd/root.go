package cmd

import (
	"fmt"
	"os"

	"github.com/rzbill/cruise/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cruise",
	Short: "Cruise - pipeline configuration from config repositories",
	Long: `Cruise merges a main configuration file with configuration partials
kept in source control, validates the result and serves it, together
with the plugins that extend it.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			_ = cmd.Help()
		}
	},
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cruise/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().String("server", defaultServer, "Cruise server URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key for the admin endpoints")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))

	// CRUISE_SERVER, CRUISE_API_KEY
	viper.SetEnvPrefix("CRUISE")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newPipelinesCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newEncryptCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home + "/.cruise")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}
