package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/aqmon/internal/config"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List the known game servers",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := runServers(cfg, cmd.OutOrStdout()); err != nil {
			exitWithError("failed to list servers", err)
		}
	},
}

func runServers(cfg *config.Config, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\t")
	for _, s := range cfg.Servers {
		mark := ""
		if cfg.Target != "" {
			if addr, _, err := cfg.ResolveTarget(cfg.Target); err == nil && addr.String() == s.Address {
				mark = "*"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Address, mark)
	}
	return tw.Flush()
}
