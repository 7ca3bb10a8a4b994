package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yegors/shiftcheck/internal/command"
)

func init() {
	cmd := &cobra.Command{
		Use:   "parse <utterance>...",
		Short: "Show how an utterance would be interpreted",
		Args:  cobra.MinimumNArgs(1),
		Run:   runParse,
	}

	cmd.Flags().Bool("inventory", false, "Use the inventory vocabulary (quantities)")

	RootCmd.AddCommand(cmd)
}

func runParse(cmd *cobra.Command, args []string) {
	inventory, _ := cmd.Flags().GetBool("inventory")

	b, _ := json.MarshalIndent(interpret(strings.Join(args, " "), inventory), "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func interpret(text string, inventory bool) command.Command {
	if inventory {
		return command.ParseInventory(text)
	}
	return command.Parse(text)
}
