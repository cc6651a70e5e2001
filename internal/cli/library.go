package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pattern-tracker/internal/analysis"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/library"
	"pattern-tracker/pkg/utils"
)

func newLibraryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Browse the pattern knowledge base",
	}

	load := func() (*library.Library, error) {
		lib, err := library.Load(app.Config.Library.Path)
		if err != nil {
			return nil, err
		}
		app.Library = lib
		return lib, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every pattern type with its historical statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			lib, err := load()
			if err != nil {
				return err
			}

			entries := make([]library.Entry, 0, lib.Len())
			for _, t := range lib.Types() {
				e, _ := lib.Lookup(t)
				entries = append(entries, e)
			}
			if output.IsJSON() {
				return output.JSON(entries)
			}

			table := NewTable(output, "Type", "Name", "Success", "Avg Gain", "Samples")
			for _, e := range entries {
				table.AddRow(
					string(e.Type),
					e.Name,
					fmt.Sprintf("%.0f%%", e.Statistics.SuccessRate*100),
					utils.FormatPercent(e.Statistics.AvgGainPct),
					strconv.Itoa(e.Statistics.SampleSize),
				)
			}
			table.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <pattern_type>",
		Short: "Show the recognition rules and playbook for one pattern type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			lib, err := load()
			if err != nil {
				return err
			}
			e, ok := lib.Lookup(analysis.PatternType(args[0]))
			if !ok {
				return apperrors.Wrapf(apperrors.ErrNotFound, "pattern type %q", args[0])
			}
			if output.IsJSON() {
				return output.JSON(e)
			}

			output.Bold("%s (%s)", e.Name, e.Type)
			output.Println(e.Description)
			output.Println()
			if len(e.Recognition) > 0 {
				output.Bold("Recognition")
				for _, r := range e.Recognition {
					output.Printf("  - %s\n", r)
				}
				output.Println()
			}
			output.Box("Statistics", []string{
				fmt.Sprintf("Success rate  %.0f%%", e.Statistics.SuccessRate*100),
				"Avg gain      " + utils.FormatPercent(e.Statistics.AvgGainPct),
				"Avg loss      " + utils.FormatPercent(e.Statistics.AvgLossPct),
				"Duration      " + strconv.Itoa(e.Statistics.AvgDurationBars) + " bars",
				"Sample size   " + strconv.Itoa(e.Statistics.SampleSize),
			})
			output.Println()
			output.Bold("Playbook")
			output.Printf("  Entry:  %s\n", e.Playbook.Entry)
			output.Printf("  Stop:   %s\n", e.Playbook.StopLoss)
			output.Printf("  Target: %s\n", e.Playbook.Target)
			return nil
		},
	})

	return cmd
}
