package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type planRow struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	SlotID int64  `json:"slot_id"`
	Slot   string `json:"slot"`
	At     string `json:"at"`
}

func NewPlanCommand(opts *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the reminder jobs the current schedule produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, err := offlineCore(opts)
			if err != nil {
				return err
			}
			defer core.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			res, err := core.Planner.Replan(ctx)
			if err != nil {
				return err
			}
			loc := core.Render.Location()
			rows := make([]planRow, 0, res.Planned)
			for _, j := range core.Planner.Jobs() {
				rows = append(rows, planRow{
					Name:   j.Name,
					Kind:   string(j.Kind),
					SlotID: j.Slot.ID,
					Slot:   core.Render.SlotString(j.Slot, true),
					At:     j.At.In(loc).Format("2006-01-02 15:04 MST"),
				})
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tSLOT\tAT")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, r.Slot, r.At)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(w, "\n%d planned, %d skipped (trigger time passed)\n", res.Planned, res.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
