package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/botswarm/internal/config"
	"github.com/wesleyorama2/botswarm/internal/output"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a swarm configuration file without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" && len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("--config is required")
			}
			return validateConfigFile(path, cmd.OutOrStdout())
		},
		Args: cobra.MaximumNArgs(1),
	}
	cmd.Flags().StringP("config", "c", "", "configuration file (YAML or JSON)")
	return cmd
}

func validateConfigFile(path string, out io.Writer) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	bots := cfg.Spawn.Count + len(cfg.Spawn.Names)
	fmt.Fprintf(out, "%s %s is valid: %d bots against %s (max %d, %.0f ticks/s)\n",
		output.SuccessIcon(true), path, bots, cfg.Server.URL, cfg.Fleet.MaxBots, cfg.Fleet.TickRate)
	return nil
}
