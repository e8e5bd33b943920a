package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	serverURL string
	token     string
	cfgFile   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "rlctl",
		Short: "Research ledger CLI",
		Long: `rlctl talks to a researchd instance and audits export bundles offline.

Bundle commands (verify, manifest) need no server. Session commands
(create, start, record, export) use --server or RL_SERVER_URL.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			v := viper.New()
			if opts.cfgFile != "" {
				v.SetConfigFile(opts.cfgFile)
			} else {
				home, _ := os.UserHomeDir()
				v.AddConfigPath(home + "/.rlctl")
				v.SetConfigName("config")
				v.SetConfigType("yaml")
			}
			v.SetEnvPrefix("RL")
			v.AutomaticEnv()
			_ = v.ReadInConfig()

			if opts.serverURL == "" {
				opts.serverURL = v.GetString("server_url")
			}
			if opts.serverURL == "" {
				opts.serverURL = "http://localhost:8080"
			}
			if opts.token == "" {
				opts.token = v.GetString("token")
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default ~/.rlctl/config.yaml)")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "", "researchd URL (default http://localhost:8080)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "operator bearer token")

	root.AddCommand(
		newVerifyCmd(),
		newManifestCmd(),
		newCreateCmd(opts),
		newStartCmd(opts),
		newRecordCmd(opts),
		newExportCmd(opts),
		newTokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the rlctl version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "rlctl %s\n", version)
			},
		},
	)
	return root
}
