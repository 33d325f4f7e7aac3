package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/buttond/internal/button"
)

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Remove a button from the catalog",
	Long:  `Remove a button from the persisted catalog. Use this only while the daemon is stopped.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func runForget(cmd *cobra.Command, args []string) error {
	id, err := button.ParseID(args[0])
	if err != nil {
		return err
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

	for i, r := range c.records {
		if r.Button.ID != id {
			continue
		}
		c.records = append(c.records[:i], c.records[i+1:]...)
		if err := c.save(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s (%s)\n", r.Button.DisplayName(), id)
		return nil
	}
	return button.NewError(button.UnknownButton, button.CodeUnknown, "button %s is not registered", id)
}
