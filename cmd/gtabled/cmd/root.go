package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"globaltable/internal/config"
)

const flagConfig = "config"

// NewRootCmd creates the gtabled command tree. Persistent flags override the
// config file and GTABLE_ environment variables.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "gtabled",
		Short:         "Global Table round engine daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// set the default command outputs
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())
			return v.BindPFlags(cmd.Flags())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String(flagConfig, "", "config file (yaml, toml or json)")
	pf.String("home", v.GetString("home"), "node home directory; state is stored under <home>/data")
	pf.String("log.level", v.GetString("log.level"), "log level (trace|debug|info|warn|error)")
	pf.String("log.format", v.GetString("log.format"), "log format (plain|json)")

	rootCmd.AddCommand(
		startCmd(v),
		decodeCmd(),
		auditCmd(),
	)
	return rootCmd
}

func loadConfig(v *viper.Viper) (config.Config, error) {
	return config.Load(v, v.GetString(flagConfig))
}
