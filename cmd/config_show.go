package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration with secrets masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return renderConfig(os.Stdout, cfg)
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check <mode>",
	Short: "Validate configuration for a mode (store, run, serve)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(args[0]); err != nil {
			return err
		}
		cmd.Println("ok")
		return nil
	},
}

// renderConfig writes c as YAML with secrets redacted.
func renderConfig(w io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return eris.Wrap(err, "config show: encode")
	}
	return enc.Close()
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
