package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/echogate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration echo-gate would start with, after merging the
config file, environment variables and defaults. The output is valid
echo-gate.yaml.`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&devMode, "dev", false, "Apply development mode overrides")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadStartConfig(devMode)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(out, "# loaded from %s\n", file)
	}
	return writeConfigYAML(out, cfg)
}

func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
