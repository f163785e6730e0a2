package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cswenor/conductor/internal/config"
)

// newConfigCmd creates the config command.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Print the merged configuration (defaults, config file, CONDUCTOR_*
environment variables) as YAML. The GitHub token is masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
