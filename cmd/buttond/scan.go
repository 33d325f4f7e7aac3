package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/buttond/internal/radio"
	"github.com/srg/buttond/internal/radio/goble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for advertising buttons",
	Long: `Scan for buttons advertising the button service and print the ones found
with their address, name and signal strength.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

// scanResults keeps the latest advertisement per address.
type scanResults struct {
	mu   sync.Mutex
	seen map[string]radio.Advertisement
}

func newScanResults() *scanResults {
	return &scanResults{seen: make(map[string]radio.Advertisement)}
}

func (r *scanResults) add(ad radio.Advertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.seen[ad.Address]; ok && ad.Name == "" {
		ad.Name = prev.Name
	}
	r.seen[ad.Address] = ad
}

// sorted returns the results strongest signal first.
func (r *scanResults) sorted() []radio.Advertisement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]radio.Advertisement, 0, len(r.seen))
	for _, ad := range r.seen {
		out = append(out, ad)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	timeout := cfg.Radio.ScanTimeout
	if scanDuration > 0 {
		timeout = scanDuration
	}

	r, err := goble.Open(logger)
	if err != nil {
		return fmt.Errorf("failed to open radio: %w", err)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for buttons for %s...\n", timeout)
	results := newScanResults()
	if err := r.Scan(ctx, results.add); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	if scanFormat == "json" {
		return writeScanJSON(cmd.OutOrStdout(), results.sorted())
	}
	return writeScanTable(cmd.OutOrStdout(), results.sorted())
}

func writeScanJSON(w io.Writer, ads []radio.Advertisement) error {
	type entry struct {
		Address     string `json:"address"`
		Name        string `json:"name,omitempty"`
		RSSI        int    `json:"rssi"`
		Connectable bool   `json:"connectable"`
	}
	out := make([]entry, 0, len(ads))
	for _, ad := range ads {
		out = append(out, entry{Address: ad.Address, Name: ad.Name, RSSI: ad.RSSI, Connectable: ad.Connectable})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeScanTable(w io.Writer, ads []radio.Advertisement) error {
	if len(ads) == 0 {
		_, err := fmt.Fprintln(w, "No buttons found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tCONNECTABLE")
	for _, ad := range ads {
		name := ad.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%t\n", name, ad.Address, ad.RSSI, ad.Connectable)
	}
	return tw.Flush()
}
