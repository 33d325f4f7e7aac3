//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func (d *daemon) watchControlSignals(ctx context.Context) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			d.handleControlSignal(sig)
		}
	}
}

func (d *daemon) handleControlSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGUSR1:
		d.logger.Info("Environment change signaled, re-checking pending buttons")
		d.ctl.Rescan()
	case syscall.SIGUSR2:
		enabled := !d.ctl.RadioEnabled()
		d.logger.WithField("enabled", enabled).Info("Radio use toggled")
		d.ctl.SetRadioEnabled(enabled)
	}
}
