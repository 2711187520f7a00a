package app

import (
	"context"
	"fmt"
	"time"

	"github.com/scragly/dreaf/pkg/config"
	"github.com/scragly/dreaf/pkg/discord/commands"
	"github.com/scragly/dreaf/pkg/discord/commands/admin"
	"github.com/scragly/dreaf/pkg/discord/commands/giftcodes"
	"github.com/scragly/dreaf/pkg/discord/commands/players"
	"github.com/scragly/dreaf/pkg/discord/prompt"
	"github.com/scragly/dreaf/pkg/discord/session"
	"github.com/scragly/dreaf/pkg/errors"
	"github.com/scragly/dreaf/pkg/errutil"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
	"github.com/scragly/dreaf/pkg/service"
	"github.com/scragly/dreaf/pkg/storage"
	"github.com/scragly/dreaf/pkg/task"
	"github.com/scragly/dreaf/pkg/util"
)

const codeCacheSize = 256

// Run bootstraps the bot and blocks until SIGINT or SIGTERM.
// appName affects config/cache/log paths. Settings come from config.Load, so the
// token is read from DREAF_BOT_TOKEN with the usual .env fallbacks.
func Run(appName string) error {
	started := time.Now()

	// App name first (affects paths)
	util.SetAppName(appName)

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger next so subsequent steps can log meaningfully
	logOpts := log.DefaultOptions()
	logOpts.Dir = cfg.Log.Dir
	logOpts.Level = log.ParseLevel(cfg.Log.Level)
	logOpts.MaxSizeMB = cfg.Log.MaxSizeMB
	logOpts.MaxBackups = cfg.Log.MaxBackups
	logOpts.MaxAgeDays = cfg.Log.MaxAgeDays
	if err := log.SetupLogger(logOpts); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()

	if err := errutil.InitializeGlobalErrorHandler(log.GlobalLogger); err != nil {
		return fmt.Errorf("initialize global error handler: %w", err)
	}
	errorHandler := errors.NewErrorHandler()

	log.ApplicationLogger().Info(fmt.Sprintf("🚀 Starting %s %s...", appName, AppVersion()))

	// Persistent state
	if err := util.EnsureDirs(cfg.Storage.SessionsDir); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	store := storage.NewStore(cfg.Storage.DBPath)
	if err := store.Init(); err != nil {
		return fmt.Errorf("initialize SQLite store: %w", err)
	}
	defer store.Close()

	codes, err := giftcode.NewRegistry(store, codeCacheSize)
	if err != nil {
		return fmt.Errorf("create gift code registry: %w", err)
	}
	playerRegistry := player.NewRegistry(store)

	// Vendor sessions are restored before Discord connects so the first feed
	// message already sees every verified account.
	client := lilith.NewClient(lilith.Options{
		BaseURL:           cfg.Vendor.BaseURL,
		Game:              cfg.Vendor.Game,
		RequestsPerSecond: cfg.Vendor.RequestsPerSecond,
		Burst:             cfg.Vendor.Burst,
		Timeout:           cfg.Vendor.Timeout.Duration,
	})
	creds := redeem.NewCredentialStore(cfg.Storage.SessionsDir, cfg.Redeem.CredentialRetention.Duration)
	sessions := redeem.NewRegistry(redeem.RegistryOptions{
		Client:         client,
		Codes:          codes,
		Players:        playerRegistry,
		Credentials:    creds,
		MaxConcurrency: cfg.Redeem.MaxConcurrency,
	})
	restored, err := sessions.Restore()
	if err != nil {
		log.ErrorLoggerRaw().Error("Failed to restore vendor sessions (continuing)", "err", err)
	}
	log.RedeemLogger().Info(fmt.Sprintf("🔐 Restored %d vendor session(s)", restored))

	// Discord session
	log.DiscordLogger().Info("🔑 Attempting to authenticate with Discord API...")
	discordSession, err := session.NewDiscordSession(cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	defer discordSession.Close()
	if discordSession.State == nil || discordSession.State.User == nil {
		return fmt.Errorf("discord session state not properly initialized")
	}
	log.DiscordLogger().Info(fmt.Sprintf("✅ Authenticated as %s", discordSession.State.User.Username))

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := task.NewRouter(task.Defaults())
	adapters := task.NewRedeemAdapters(router, sessions, creds)

	waiter := prompt.NewWaiter()
	removeWaiter := discordSession.AddHandler(waiter.OnMessageCreate)
	defer removeWaiter()

	redeemer := giftcodes.NewRedeemer(codes, playerRegistry, sessions, redeem.VerifyOptions{
		MaxRetries:  cfg.Redeem.MaxRetries,
		ReplyWindow: cfg.Redeem.ReplyWindow.Duration,
	})
	board := giftcodes.NewBoard(appCtx, discordSession, redeemer, store, giftcodes.BoardOptions{
		ChannelID:     cfg.Discord.CodeChannelID,
		LogsChannelID: cfg.Discord.CodeLogsChannelID,
		Waiter:        waiter,
		Handler:       errorHandler,
	})
	adapters.SetBoard(board)
	adapters.SetReporter(giftcodes.NewLogReporter(discordSession, cfg.Discord.CodeLogsChannelID))
	feed := giftcodes.NewFeedListener(discordSession, codes, adapters, cfg.Discord.CodeFeedChannelID)

	commandHandler := commands.NewCommandHandler(
		appCtx,
		discordSession,
		cfg,
		giftcodes.NewCommands(redeemer, adapters, waiter, errorHandler),
		players.NewCommands(playerRegistry, sessions),
	)

	serviceManager := service.NewServiceManager(errorHandler)
	commandHandler.SetAdminCommands(admin.NewCommands(serviceManager, router, sessions))

	var stopMaintenance task.Cancel
	var removeFeed, removeBoard func()
	wrappers := []*service.ServiceWrapper{
		service.NewServiceWrapper("task_router", service.TypeScheduler, nil,
			func(context.Context) error {
				stopMaintenance = adapters.ScheduleMaintenance(cfg.Redeem.BoardRefresh.Duration, cfg.Redeem.CredentialSweep.Duration)
				return nil
			},
			func(context.Context) error {
				if stopMaintenance != nil {
					stopMaintenance()
				}
				router.Close()
				return nil
			},
		),
		service.NewServiceWrapper("code_feed", service.TypeListener, []string{"task_router"},
			func(context.Context) error {
				removeFeed = discordSession.AddHandler(feed.OnMessageCreate)
				return nil
			},
			func(context.Context) error {
				removeFeed()
				return nil
			},
		),
		service.NewServiceWrapper("code_board", service.TypeListener, []string{"task_router"},
			func(context.Context) error {
				removeBoard = discordSession.AddHandler(board.OnReactionAdd)
				return adapters.EnqueueBoardRefresh()
			},
			func(context.Context) error {
				removeBoard()
				return nil
			},
		),
		service.NewServiceWrapper("commands", service.TypeCommands, []string{"code_board", "code_feed"},
			func(context.Context) error { return commandHandler.SetupCommands() },
			func(context.Context) error { return commandHandler.Shutdown() },
		),
	}
	for _, w := range wrappers {
		if err := serviceManager.Register(w); err != nil {
			return fmt.Errorf("register %s service: %w", w.Name(), err)
		}
	}

	log.ApplicationLogger().Info("🚀 Starting all services...")
	if err := serviceManager.StartAll(appCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	log.ApplicationLogger().Info(fmt.Sprintf("🎯 %s initialized successfully in %s", appName, time.Since(started).Round(time.Millisecond)))
	log.ApplicationLogger().Info(fmt.Sprintf("🤖 %s running. Press Ctrl+C to stop...", appName))

	util.WaitForInterrupt(appCtx)

	log.ApplicationLogger().Info(fmt.Sprintf("🛑 Stopping %s...", appName))
	shutdownCtx, shutdownCancel := context.WithTimeoutCause(context.Background(), 30*time.Second, fmt.Errorf("application shutdown"))
	defer shutdownCancel()

	// In-flight redemptions see the cancellation before the router drains.
	cancel()
	if err := serviceManager.StopAll(shutdownCtx); err != nil {
		log.ErrorLoggerRaw().Error(fmt.Sprintf("Some services failed to stop cleanly: %v", err))
	}
	return nil
}
