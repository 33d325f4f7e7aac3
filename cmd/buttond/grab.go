package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/grab"
	"github.com/srg/buttond/internal/registry"
)

var grabCmd = &cobra.Command{
	Use:   "grab <token>",
	Short: "Add a button from a companion app grab token",
	Long: `Add a button using the grab token returned by the companion app.

By default the token is written straight into the persisted catalog; use this
only while the daemon is stopped. With --inbox the token is dropped into the
grab inbox of a running daemon instead.`,
	Example: `  buttond grab 'buttond://grab?button=...&key=...&name=F023'
  buttond grab --inbox 'buttond://grab?button=...'
  buttond grab request`,
	Args: cobra.ExactArgs(1),
	RunE: runGrab,
}

var grabRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Print the URL that asks the companion app for a grab token",
	Args:  cobra.NoArgs,
	RunE:  runGrabRequest,
}

var (
	grabInbox   bool
	grabTrigger string
)

func init() {
	grabCmd.Flags().BoolVar(&grabInbox, "inbox", false, "Hand the token to a running daemon through its grab inbox")
	grabCmd.Flags().StringVar(&grabTrigger, "trigger", "", "Trigger behavior (default from config)")
	grabCmd.AddCommand(grabRequestCmd)
}

func runGrab(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	b, err := grab.ParseToken(args[0])
	if err != nil {
		return err
	}
	b.TriggerBehavior = cfg.TriggerBehavior()
	if grabTrigger != "" {
		if b.TriggerBehavior, err = button.ParseTriggerBehavior(grabTrigger); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true

	if grabInbox {
		return dropInInbox(cfg.Grab.Inbox, b.ID, args[0], cmd)
	}

	c, err := openCatalog(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer c.close()

	for _, r := range c.records {
		if r.Button.ID == b.ID {
			return button.NewError(button.AlreadyGrabbed, button.CodeButtonAlreadyGrabbed, "button %s is already registered", b.ID)
		}
	}
	c.records = append(c.records, registry.Record{Button: b, Pending: true})
	if err := c.save(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Grabbed %s (%s)\n", b.DisplayName(), b.ID)
	return nil
}

// dropInInbox writes the token under a temporary name and renames it so the
// watcher never sees a partial file.
func dropInInbox(dir string, id button.ID, token string, cmd *cobra.Command) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create grab inbox: %w", err)
	}
	name := fmt.Sprintf("%s-%d%s", id, time.Now().UnixNano(), grab.InboxSuffix)
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to write grab token: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to queue grab token: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued grab of %s in %s\n", id, dir)
	return nil
}

func runGrabRequest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), grab.RequestURL(cfg.Grab.Companion, cfg.Grab.CallbackScheme))
	return nil
}
