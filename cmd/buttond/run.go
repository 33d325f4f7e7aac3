package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/buttond/internal/auth"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/config"
	"github.com/srg/buttond/internal/console"
	"github.com/srg/buttond/internal/dispatch"
	"github.com/srg/buttond/internal/eventloop"
	"github.com/srg/buttond/internal/grab"
	"github.com/srg/buttond/internal/groutine"
	"github.com/srg/buttond/internal/luahook"
	"github.com/srg/buttond/internal/mqtt"
	"github.com/srg/buttond/internal/radio"
	"github.com/srg/buttond/internal/radio/bluez"
	"github.com/srg/buttond/internal/radio/goble"
	"github.com/srg/buttond/internal/registry"
	"github.com/srg/buttond/internal/store"
	"github.com/srg/buttond/internal/supervisor"
	"github.com/srg/buttond/internal/wsfeed"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect grabbed buttons and publish their events",
	Long: `Restore the button catalog, keep every grabbed button connected and fan
interaction events out to the configured observers until interrupted.

New buttons are added by dropping grab tokens into the grab inbox directory
(see 'buttond grab --inbox').

Signals:
  SIGUSR1  re-check pending buttons now (e.g. after the host moved)
  SIGUSR2  toggle radio use; disabling disconnects every button`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

const shutdownTimeout = 5 * time.Second

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	st, err := store.Open(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	r, err := goble.Open(logger)
	if err != nil {
		return fmt.Errorf("failed to open radio: %w", err)
	}

	d, err := newDaemon(cfg, logger, r, st, cmd.OutOrStdout())
	if err != nil {
		_ = r.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.run(ctx)
}

// daemon owns the radio and every long running component.
type daemon struct {
	cfg    *config.Config
	logger *logrus.Logger
	radio  radio.Radio

	loop *eventloop.Loop
	disp *dispatch.Dispatcher
	sup  *supervisor.Supervisor
	reg  *registry.Registry
	ctl  *controls
	feed *wsfeed.Feed

	closers []func()
}

func newDaemon(cfg *config.Config, logger *logrus.Logger, r radio.Radio, st store.Store, out io.Writer) (*daemon, error) {
	if cfg.AppSecret == "" {
		return nil, ErrMissingAppSecret
	}

	d := &daemon{cfg: cfg, logger: logger, radio: r}
	d.loop = eventloop.New(logger)
	d.disp = dispatch.New(context.Background(), logger)
	d.sup = supervisor.New(d.loop, r, auth.New([]byte(cfg.AppSecret), logger), d.disp, logger, supervisor.Config{
		MaxConcurrentAttempts: cfg.Radio.MaxConcurrentAttempts,
		RetryInterval:         cfg.Radio.RetryInterval,
		ReplaySettle:          cfg.Radio.ReplaySettle,
		AuthTimeout:           cfg.Radio.AuthTimeout,
	})
	d.reg = registry.New(d.sup, st, d.disp, logger, cfg.Registry.ForgetTimeout)
	d.ctl = newControls(d.reg, d.sup)

	if err := d.attachObservers(out); err != nil {
		d.closeObservers()
		return nil, err
	}
	return d, nil
}

func (d *daemon) attachObservers(out io.Writer) error {
	cfg := d.cfg

	if cfg.Console.Enabled {
		p := console.New(out, console.ColorMode(cfg.Console.Color), d.logger)
		d.subscribe("console", p, p.Close)
	}

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, byte(cfg.MQTT.QoS))
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		d.subscribe("mqtt", mqtt.NewObserver(pub, cfg.MQTT.Prefix, d.logger), func() { _ = pub.Close() })
	}

	if cfg.Lua.Script != "" {
		hook, err := luahook.LoadFile(cfg.Lua.Script, d.logger, luahook.WithControls(d.ctl))
		if err != nil {
			return err
		}
		d.subscribe("lua", hook, hook.Close)
	}

	if cfg.Feed.Listen != "" {
		d.feed = wsfeed.New(cfg.Feed.ClientBuffer, d.logger)
		d.subscribe("feed", d.feed, d.feed.Close)
	}

	if d.disp.Len() == 0 {
		return ErrNoObservers
	}
	return nil
}

func (d *daemon) subscribe(id string, obs dispatch.Observer, closer func()) {
	d.disp.Subscribe(id, obs)
	d.closers = append(d.closers, closer)
	d.logger.WithField("observer", id).Debug("Observer attached")
}

func (d *daemon) closeObservers() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// run blocks until ctx is done, then saves the catalog and disconnects every
// button before tearing down.
func (d *daemon) run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	groutine.Go(loopCtx, "event-loop", func(ctx context.Context) {
		defer close(loopDone)
		_ = d.loop.Run(ctx)
	})
	groutine.Go(loopCtx, "radio-events", func(ctx context.Context) {
		_ = d.sup.Run(ctx)
	})

	// A catalog that failed to restore is left untouched in the store.
	restoreErr := d.reg.Restore(ctx)
	if restoreErr != nil {
		d.logger.WithError(restoreErr).Error("Failed to restore catalog")
		d.sup.Close()
	} else {
		d.startIntake(ctx)
		d.logger.WithField("buttons", d.reg.Len()).Info("Daemon started")
		<-ctx.Done()
		d.shutdown()
	}

	stopLoop()
	<-loopDone
	_ = d.radio.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.disp.Close(closeCtx); err != nil {
		d.logger.WithError(err).Warn("Observers did not drain in time")
	}
	d.closeObservers()
	d.logger.Info("Daemon stopped")
	return restoreErr
}

func (d *daemon) startIntake(ctx context.Context) {
	groutine.GoSafe(ctx, "grab-inbox", d.logger, func(ctx context.Context) {
		err := grab.WatchInbox(ctx, d.cfg.Grab.Inbox, d.logger, d.handleGrab)
		if err != nil {
			d.logger.WithError(err).Error("Grab inbox stopped")
		}
	}, nil)

	if d.feed != nil {
		groutine.GoSafe(ctx, "event-feed", d.logger, func(ctx context.Context) {
			if err := d.feed.Serve(ctx, d.cfg.Feed.Listen); err != nil {
				d.logger.WithError(err).Error("Event feed stopped")
			}
		}, nil)
	}

	groutine.GoSafe(ctx, "control-signals", d.logger, d.watchControlSignals, nil)

	if runtime.GOOS == "linux" {
		groutine.GoSafe(ctx, "adapter-monitor", d.logger, d.watchAdapter, nil)
	}
}

func (d *daemon) handleGrab(ctx context.Context, b button.Button, err error) {
	if err != nil {
		d.disp.Emit(button.Notification{Kind: button.DidGrab, At: time.Now(), Err: err})
		return
	}
	b.TriggerBehavior = d.cfg.TriggerBehavior()
	if _, err := d.reg.Add(ctx, b); err != nil {
		d.logger.WithFields(logrus.Fields{"button": b.ID, "error": err}).Warn("Grab failed")
	}
}

func (d *daemon) watchAdapter(ctx context.Context) {
	m, err := bluez.Open(d.cfg.Radio.Adapter, d.logger)
	if err != nil {
		d.logger.WithError(err).Warn("Adapter power monitor unavailable")
		return
	}
	if err := m.Watch(ctx, d.sup.HandleRadioState); err != nil {
		d.logger.WithError(err).Warn("Adapter power monitor stopped")
	}
}

func (d *daemon) shutdown() {
	saveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.reg.Save(saveCtx); err != nil {
		d.logger.WithError(err).Error("Failed to save catalog on shutdown")
	}

	known := d.reg.KnownButtons()
	waiters := make([]<-chan struct{}, 0, len(known))
	for _, sess := range known {
		waiters = append(waiters, sess.WhenDisconnected())
	}
	d.sup.DisconnectAll()

	deadline := time.NewTimer(d.cfg.Registry.ForgetTimeout)
	defer deadline.Stop()
	for _, w := range waiters {
		select {
		case <-w:
		case <-deadline.C:
			d.logger.Warn("Buttons did not disconnect in time")
			d.sup.Close()
			return
		}
	}
	d.sup.Close()
}
