package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/buttond/internal/registry"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List grabbed buttons",
	Long:  `Print the buttons stored in the persisted catalog, in grab order.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var listFormat string

func init() {
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format (table, json)")
}

type listEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	Color      string `json:"color"`
	Trigger    string `json:"trigger_behavior"`
	PressCount uint32 `json:"press_count"`
	Pending    bool   `json:"pending"`
}

func runList(cmd *cobra.Command, args []string) error {
	if listFormat != "table" && listFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", listFormat)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	c, err := openCatalog(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if listFormat == "json" {
		return writeListJSON(cmd.OutOrStdout(), c.records)
	}
	return writeListTable(cmd.OutOrStdout(), c.records)
}

func toListEntries(records []registry.Record) []listEntry {
	entries := make([]listEntry, 0, len(records))
	for _, r := range records {
		b := r.Button
		entries = append(entries, listEntry{
			ID:         b.ID.String(),
			Name:       b.DisplayName(),
			Address:    b.Address,
			Color:      b.Color,
			Trigger:    b.TriggerBehavior.String(),
			PressCount: b.PressCount,
			Pending:    r.Pending,
		})
	}
	return entries
}

func writeListJSON(w io.Writer, records []registry.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toListEntries(records))
}

func writeListTable(w io.Writer, records []registry.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No buttons grabbed.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tADDRESS\tTRIGGER\tPRESSES\tPENDING")
	for _, e := range toListEntries(records) {
		addr := e.Address
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n", e.Name, e.ID, addr, e.Trigger, e.PressCount, e.Pending)
	}
	return tw.Flush()
}
