package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/aqmon/internal/config"
)

var (
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or generate configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration as TOML",
	Long: `Write the default configuration as TOML to path, or to stdout when no
path is given. Existing files are kept unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		if err := runConfigInit(path, configInitForce, cmd.OutOrStdout()); err != nil {
			exitWithError("failed to write config", err)
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := runConfigShow(cfg, cmd.OutOrStdout()); err != nil {
			exitWithError("failed to print config", err)
		}
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(path string, force bool, out io.Writer) error {
	data, err := toml.Marshal(config.Root{Monitor: *config.Default()})
	if err != nil {
		return fmt.Errorf("toml marshal failed: %w", err)
	}
	if path == "" {
		_, err := out.Write(data)
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}

func runConfigShow(cfg *config.Config, out io.Writer) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(config.Root{Monitor: *cfg}); err != nil {
		return fmt.Errorf("yaml marshal failed: %w", err)
	}
	return enc.Close()
}
