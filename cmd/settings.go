package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and change stored user settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Print one setting, or all of them as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		set, closeSettings, err := initSettings(ctx)
		if err != nil {
			return err
		}
		defer closeSettings()

		if len(args) == 1 {
			v, err := set.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, v)
			return nil
		}

		all, err := set.All(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:       "set <name> <value>",
	Short:     "Store one setting",
	Args:      cobra.ExactArgs(2),
	ValidArgs: settings.Names(),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		set, closeSettings, err := initSettings(ctx)
		if err != nil {
			return err
		}
		defer closeSettings()

		return set.Set(ctx, args[0], args[1])
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
