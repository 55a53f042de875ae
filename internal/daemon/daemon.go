// Package daemon wires the ticket engine to Discord and runs the bot with
// its optional sweep schedule, dashboard and Slack mirror until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/ticketbooth/internal/config"
	"github.com/zulandar/ticketbooth/internal/dashboard"
	"github.com/zulandar/ticketbooth/internal/discord"
	"github.com/zulandar/ticketbooth/internal/slackmirror"
	"github.com/zulandar/ticketbooth/internal/store"
	"github.com/zulandar/ticketbooth/internal/ticket"
	"github.com/zulandar/ticketbooth/internal/transcript"
	"go.uber.org/zap"
)

// Daemon owns every long-lived component of a running bot.
type Daemon struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *store.Store
	closeDB func() error
	adapter *discord.Adapter
	engine  *ticket.Engine
	bot     *discord.Bot
	mirror  *slackmirror.Mirror
}

// Opts holds parameters for creating a Daemon.
type Opts struct {
	Config *config.Config
	Logger *zap.Logger
}

// New builds the daemon's components. Nothing connects to Discord until Run.
func New(opts Opts) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("daemon: config is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	st, closeDB, err := OpenStore(cfg.Store, log.Named("store"))
	if err != nil {
		return nil, err
	}

	adapter, err := discord.New(discord.AdapterOpts{
		BotToken:     cfg.Discord.Token,
		GuildID:      cfg.Discord.GuildID,
		LogChannelID: cfg.Discord.LogChannelID,
		Logger:       log.Named("discord"),
	})
	if err != nil {
		closeDB()
		return nil, err
	}

	var notifier ticket.Notifier = adapter
	var mirror *slackmirror.Mirror
	if cfg.Slack.Channel != "" {
		mirror, err = slackmirror.New(slackmirror.Opts{
			Next:      adapter,
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Slack.Channel,
			Logger:    log.Named("slack"),
		})
		if err != nil {
			closeDB()
			return nil, err
		}
		notifier = mirror
	}

	var archiver ticket.Archiver
	if cfg.Transcripts.Save {
		archiver = transcript.NewArchive(cfg.Transcripts.Dir)
	}

	engine, err := ticket.NewEngine(ticket.EngineOpts{
		Store:         st,
		Provisioner:   adapter,
		Transcriber:   transcript.NewExporter(adapter),
		Notifier:      notifier,
		Archiver:      archiver,
		CategoryID:    cfg.Discord.TicketCategoryID,
		SupportRoleID: cfg.Discord.SupportRoleID,
		MessageLimit:  cfg.Transcripts.MessageLimit,
		Location:      cfg.Location(),
		CloseDelay:    cfg.CloseDelay(),
		Logger:        log.Named("ticket"),
	})
	if err != nil {
		closeDB()
		return nil, err
	}

	bot, err := discord.NewBot(discord.BotOpts{
		Adapter:       adapter,
		Engine:        engine,
		SupportRoleID: cfg.Discord.SupportRoleID,
		CloseDelay:    cfg.CloseDelay(),
		Logger:        log.Named("bot"),
	})
	if err != nil {
		closeDB()
		return nil, err
	}

	return &Daemon{
		cfg:     cfg,
		log:     log,
		store:   st,
		closeDB: closeDB,
		adapter: adapter,
		engine:  engine,
		bot:     bot,
		mirror:  mirror,
	}, nil
}

// Engine returns the ticket engine.
func (d *Daemon) Engine() *ticket.Engine { return d.engine }

// Run connects to Discord and serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.closeDB()

	if err := d.bot.Start(ctx); err != nil {
		return fmt.Errorf("daemon: start bot: %w", err)
	}
	d.log.Info("connecting to discord", zap.String("guild", d.cfg.Discord.GuildID))
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	defer d.adapter.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if d.cfg.Dashboard.Port > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				Tickets: d.engine,
				Port:    d.cfg.Dashboard.Port,
				Logger:  d.log.Named("dashboard"),
			}); err != nil {
				errCh <- err
			}
		}()
	}

	stopSweep, err := d.startSweep(ctx)
	if err != nil {
		return err
	}
	defer stopSweep()

	d.log.Info("ticketbooth running")
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	d.log.Info("ticketbooth shutting down")
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startSweep schedules the stale-ticket sweep. The returned function stops
// the scheduler and waits for a running sweep to finish.
func (d *Daemon) startSweep(ctx context.Context) (func(), error) {
	if d.cfg.Sweep.Schedule == "" {
		return func() {}, nil
	}
	sched, err := config.ParseSchedule(d.cfg.Sweep.Schedule)
	if err != nil {
		return nil, fmt.Errorf("daemon: sweep schedule: %w", err)
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() { d.runSweep(ctx) }))
	c.Start()
	d.log.Info("stale-ticket sweep scheduled", zap.String("schedule", d.cfg.Sweep.Schedule))
	return func() { <-c.Stop().Done() }, nil
}

func (d *Daemon) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	removed, err := d.engine.Sweep(ctx)
	if err != nil {
		d.log.Error("stale-ticket sweep failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		d.log.Info("stale-ticket sweep", zap.Int("removed", len(removed)))
	}
}
