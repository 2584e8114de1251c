package lectern

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/jhcourtney/lectern/lectern.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// Lectern is the main application struct. It ties together the
// Discord gateway session, the scripture provider registry, the
// database, the daily post scheduler, and the admin API.
type Lectern struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. The only
	// difference between this and [Lectern.db] is that, when using
	// sqlite, a mutex is used. Otherwise, just use [Lectern.db].
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Scripture text provider registry
	services *ServiceManager

	// Resolves which Bible version applies to a lookup
	resolver *VersionResolver

	// In-memory version list backing slash-command autocomplete
	versionIndex *VersionIndex

	// Scheduled verse-of-the-day posting
	dailyBread *DailyBread

	// Provides the back-end admin API
	api *API

	dbNotifier DBNotifier

	// signalStop enables an explicit stop signal to be sent to the
	// bot, such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it when Run has finished
	// initializing: database migrated, runtime config loaded, discord
	// session open, commands registered
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	paused atomic.Bool

	// Indicates whether admin credentials have been set. The admin
	// API's login endpoint rejects requests until they are.
	pendingSetup atomic.Bool

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex

	triggerRuntimeConfigRefreshCh chan bool
	triggerVersionIndexRefreshCh  chan bool
}

// RuntimeConfig returns a copy of the current runtime configuration
func (lct *Lectern) RuntimeConfig() RuntimeConfig {
	lct.cfgMu.RLock()
	defer lct.cfgMu.RUnlock()
	return *lct.runtimeConfig
}

// New creates and initializes a new Lectern instance from the given
// configuration: loggers, the provider registry, the Discord
// integration, and the admin API. Database connections are deferred
// to Run.
func New(config *Config) (*Lectern, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	lct := &Lectern{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		triggerVersionIndexRefreshCh:  make(chan bool, 1),
	}

	lct.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     lct.config.LogLevel,
			AddSource: true,
		},
	)
	lct.logger = slog.New(lct.logHandler)
	slog.SetDefault(lct.logger)

	lct.services = NewServiceManager(
		config.providerConfigMap(),
		config.HTTPClient,
		config.Providers.Timeout,
		config.Providers.MaxRequestsPerSecond,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Providers.LogLevel,
					AddSource: true,
				},
			),
		),
	)

	lct.versionIndex = NewVersionIndex()

	lct.config.Discord.httpClient = lct.config.HTTPClient
	disc, err := newDiscord(lct.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     lct.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     lct.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.lct = lct
		lct.discord = disc
	}

	api, err := newAPI(lct, config.API)
	errs = append(errs, err)
	lct.api = api

	return lct, errors.Join(errs...)
}

func (lct *Lectern) ValidateConfig() error {
	return structValidator.Struct(lct.config)
}

// Run starts the bot and blocks until the context is canceled or a
// stop signal arrives, then shuts down gracefully.
func (lct *Lectern) Run(ctx context.Context) error {
	// prevents concurrent runs
	lct.runMu.Lock()
	defer lct.runMu.Unlock()

	lct.signalStop = make(chan struct{}, 1)
	lct.startedAt = time.Now()
	logger := lct.logger

	if err := lct.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", lct.config))

	if lct.signalReady == nil {
		lct.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful
	// shutdown when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-lct.signalStop:
			lct.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			lct.logger.Warn("context canceled, sending stop signal")
			lct.signalStop <- struct{}{}
			return
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, lct.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- lct.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	notifier, err := newDBNotifier(lct)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	lct.dbNotifier = notifier

	runtimeWG := &sync.WaitGroup{}

	if lct.config.API.Enabled {
		go func() {
			httpErr := lct.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				lct.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if discErr := lct.initDiscordSession(ctx); discErr != nil {
		lct.logger.ErrorContext(
			ctx,
			"error creating discord session",
			tint.Err(discErr),
		)
		return discErr
	}

	if err = lct.discordInit(ctx, logger); err != nil {
		return err
	}

	lct.dailyBread = NewDailyBread(
		lct.db,
		lct.writeDB,
		lct.services,
		lct.resolver,
		lct.discord.session,
		lct.config.HTTPClient,
		lct.config.DailyBread.VerseOfTheDayURL,
		lct.config.DailyBread.VerseOfTheDayTimeout,
		lct.config.DailyBread.Interval,
		lct.logger,
	)
	if lct.config.DailyBread.Enabled {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			lct.dailyBread.Run(ctx)
		}()
	}

	lct.startRuntimeConfigRefresher(ctx, runtimeWG, logger)
	lct.startVersionIndexRefresher(ctx, runtimeWG)

	for _, channel := range []string{
		lct.dbNotifier.RuntimeConfigChannelName(),
		lct.dbNotifier.VersionIndexChannelName(),
		lct.dbNotifier.StopChannelName(),
	} {
		channel := channel
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if e := lct.dbNotifier.Listen(ctx, channel); e != nil {
				lct.logger.ErrorContext(
					ctx,
					"error listening on notify channel",
					"channel", channel,
					tint.Err(e),
				)
			}
		}()
	}

	lct.signalReady <- struct{}{}
	lct.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context -
	// generally from an interrupt, or the `/api/quit` endpoint
	stopCh := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		stopCh <- struct{}{}
	}()
	<-stopCh

	return lct.shutdown(ctx, runtimeWG)
}

// initRun connects the database, loads or creates the runtime config,
// and builds the components that need a live DB connection.
func (lct *Lectern) initRun(startCtx context.Context) error {
	lct.logger.Debug("initializing DB...")
	db, err := CreateDB(
		startCtx,
		lct.config.DatabaseType,
		lct.config.Database,
		lct.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	lct.db = db
	lct.writeDB = NewDatabase(db, nil, lct.config.DatabaseType == dbTypePostgres)
	lct.logger.Debug("finished initializing DB")

	// load or create the DB state config - this tells the bot whether
	// it should start in a 'paused' state (to avoid a potential
	// scenario where we want to keep it paused, but it crashes and
	// restarts in an active state)
	var botState RuntimeConfig
	getStateErr := lct.db.Last(&botState).Error
	if getStateErr != nil {
		if !errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
		botState = DefaultRuntimeConfig()
		if _, err = lct.writeDB.Create(startCtx, &botState); err != nil {
			return fmt.Errorf("error creating config: %w", err)
		}
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}

	if botState.AdminUsername == "" || botState.AdminPassword == "" {
		lct.pendingSetup.Store(true)
	}
	lct.paused.Store(botState.Paused)
	lct.setRuntimeLevels(botState)
	lct.runtimeConfig = &botState

	lct.resolver = NewVersionResolver(lct.db, lct.config.DefaultVersion)

	if err = lct.versionIndex.Refresh(startCtx, lct.db); err != nil {
		return fmt.Errorf("error loading version index: %w", err)
	}
	if lct.versionIndex.Len() == 0 {
		lct.logger.Warn("no bible versions configured")
	}

	// the system default must always resolve
	if _, err = GetBibleVersion(
		startCtx,
		lct.db,
		lct.config.DefaultVersion,
	); err != nil {
		return fmt.Errorf("default version unavailable: %w", err)
	}

	return nil
}

func (lct *Lectern) initDiscordSession(ctx context.Context) error {
	session, err := lct.discord.newSession()
	if err != nil {
		return err
	}
	lct.discord.session = session
	session.SetIdentify(
		discordgo.Identify{
			Intents:  lct.config.Discord.GatewayIntents,
			Presence: getDiscordPresenceStatusUpdate(lct.RuntimeConfig()),
		},
	)

	lct.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(lct.discord.handlerReady()),
		session.AddHandler(lct.discord.handlerConnect()),
		session.AddHandler(lct.discord.handlerDisconnect()),
		session.AddHandler(lct.handlerInteractionCreate()),
		session.AddHandler(lct.handlerMessageCreate()),
	}

	lct.logger.InfoContext(ctx, "discord session initialized")
	return nil
}

// discordInit opens the discord websocket connection and registers
// the slash commands.
func (lct *Lectern) discordInit(ctx context.Context, logger *slog.Logger) error {
	lct.logger.InfoContext(ctx, "connecting to discord")
	if err := lct.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	commands, err := lct.discord.registerCommands()
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	logger.InfoContext(ctx, "registered commands", "count", len(commands))

	runtimeCfg := lct.RuntimeConfig()
	if runtimeCfg.DiscordCustomStatus != "" && !lct.paused.Load() {
		go func() {
			if statusErr := lct.discord.updateCustomStatus(
				runtimeCfg.DiscordCustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

// startRuntimeConfigRefresher starts the config refresher goroutine,
// and, when [Config.RuntimeConfigTTL] is set, a ticker feeding it.
func (lct *Lectern) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	logger *slog.Logger,
) {
	runtimeConfigTTL := lct.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case lct.triggerRuntimeConfigRefreshCh <- false:
						logger.Debug("sent config refresh signal from ticker")
					case <-time.After(5 * time.Second):
						logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case forceRefresh := <-lct.triggerRuntimeConfigRefreshCh:
				refreshCh := make(chan struct{}, 1)
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				go func() {
					lct.refreshRuntimeConfig(refreshCtx, forceRefresh)
					refreshCh <- struct{}{}
				}()
				select {
				case <-refreshCh:
				//
				case <-refreshCtx.Done():
					lct.logger.Warn("refresh runtime config timed out or interrupted")
				}
				refreshCancel()
			}
		}
	}()
}

// startVersionIndexRefresher consumes reload triggers and rebuilds the
// autocomplete index from the database.
func (lct *Lectern) startVersionIndexRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				lct.logger.Info("context canceled, stopping version index refresher")
				return
			case <-lct.triggerVersionIndexRefreshCh:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				if err := lct.versionIndex.Refresh(refreshCtx, lct.db); err != nil {
					lct.logger.Error("error refreshing version index", tint.Err(err))
				} else {
					lct.logger.Info(
						"refreshed version index",
						"versions", lct.versionIndex.Len(),
					)
				}
				refreshCancel()
			}
		}
	}()
}

func (lct *Lectern) refreshRuntimeConfig(ctx context.Context, force bool) {
	lct.cfgMu.Lock()
	defer lct.cfgMu.Unlock()

	runtimeConfigTTL := lct.config.RuntimeConfigTTL
	rollbackConfig := lct.runtimeConfig

	var refreshConfig RuntimeConfig
	if err := lct.db.WithContext(ctx).Last(&refreshConfig).Error; err != nil {
		lct.logger.Error("error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(refreshConfig.UpdatedAt))
	if force || lastUpdated > runtimeConfigTTL {
		lct.unsafeRefreshRuntimeConfig(rollbackConfig, &refreshConfig)
	} else {
		lct.logger.Debug("runtime config is up to date, skipping refresh")
	}
}

// unsafeRefreshRuntimeConfig refreshes the runtime configuration
// without locking the config mutex.
func (lct *Lectern) unsafeRefreshRuntimeConfig(
	rollbackConfig *RuntimeConfig,
	existingConfig *RuntimeConfig,
) {
	switch {
	case existingConfig.Paused && !rollbackConfig.Paused:
		if discErr := lct.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		); discErr != nil {
			lct.logger.Error("error updating discord status", tint.Err(discErr))
		}
	case !existingConfig.Paused && rollbackConfig.Paused,
		existingConfig.DiscordCustomStatus != rollbackConfig.DiscordCustomStatus:
		if discErr := lct.discord.updateCustomStatus(
			existingConfig.DiscordCustomStatus,
		); discErr != nil {
			lct.logger.Error("error updating discord status", tint.Err(discErr))
		}
	}

	lct.paused.Store(existingConfig.Paused)
	lct.runtimeConfig = existingConfig
	lct.setRuntimeLevels(*existingConfig)
	lct.logger.Info("refreshed runtime config")
}

// applyRuntimeConfigUpdate persists a partial update, swaps in the new
// config, and announces the change so other instances reload.
func (lct *Lectern) applyRuntimeConfigUpdate(
	ctx context.Context,
	update RuntimeConfigUpdate,
) (RuntimeConfig, error) {
	lct.cfgMu.Lock()

	updated := *lct.runtimeConfig
	if update.Paused != nil {
		updated.Paused = *update.Paused
	}
	if update.DiscordCustomStatus != nil {
		updated.DiscordCustomStatus = *update.DiscordCustomStatus
	}
	if update.DiscordErrorMessage != nil {
		updated.DiscordErrorMessage = *update.DiscordErrorMessage
	}
	if update.VerseScanEnabled != nil {
		updated.VerseScanEnabled = *update.VerseScanEnabled
	}
	if update.LogLevel != nil {
		updated.LogLevel = *update.LogLevel
	}
	if update.ProviderLogLevel != nil {
		updated.ProviderLogLevel = *update.ProviderLogLevel
	}
	if update.DiscordLogLevel != nil {
		updated.DiscordLogLevel = *update.DiscordLogLevel
	}
	if update.DiscordGoLogLevel != nil {
		updated.DiscordGoLogLevel = *update.DiscordGoLogLevel
	}
	if update.DatabaseLogLevel != nil {
		updated.DatabaseLogLevel = *update.DatabaseLogLevel
	}
	if update.APILogLevel != nil {
		updated.APILogLevel = *update.APILogLevel
	}

	if _, err := lct.writeDB.Save(ctx, &updated); err != nil {
		lct.cfgMu.Unlock()
		return RuntimeConfig{}, err
	}

	rollbackConfig := lct.runtimeConfig
	lct.unsafeRefreshRuntimeConfig(rollbackConfig, &updated)
	lct.cfgMu.Unlock()

	lct.dbNotifier.ReloadRuntimeConfig(ctx)
	return updated, nil
}

func (lct *Lectern) setRuntimeLevels(state RuntimeConfig) {
	lct.config.LogLevel.Set(state.LogLevel.Level())
	lct.config.Providers.LogLevel.Set(state.ProviderLogLevel.Level())
	lct.config.Discord.LogLevel.Set(state.DiscordLogLevel.Level())
	lct.config.Discord.DiscordGoLogLevel.Set(state.DiscordGoLogLevel.Level())
	lct.config.DatabaseLogLevel.Set(state.DatabaseLogLevel.Level())
	lct.config.API.LogLevel.Set(state.APILogLevel.Level())
}

// Pause stops the bot from responding to commands and scanning
// messages, without disconnecting from Discord.
func (lct *Lectern) Pause(ctx context.Context) bool {
	paused := true
	_, err := lct.applyRuntimeConfigUpdate(ctx, RuntimeConfigUpdate{Paused: &paused})
	if err != nil {
		lct.logger.Error("error pausing", tint.Err(err))
		return false
	}
	return true
}

// Resume reverses Pause.
func (lct *Lectern) Resume(ctx context.Context) bool {
	paused := false
	_, err := lct.applyRuntimeConfigUpdate(ctx, RuntimeConfigUpdate{Paused: &paused})
	if err != nil {
		lct.logger.Error("error resuming", tint.Err(err))
		return false
	}
	return true
}

func (lct *Lectern) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	lct.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if lct.eventShutdown != nil {
			go func() {
				lct.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := lct.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		lct.logger.Warn("immediate shutdown")
		go func() {
			_ = lct.api.httpServer.Close()
		}()
		if lct.discord != nil && lct.discord.session != nil {
			_ = lct.discord.session.Close()
		}
		return nil
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	lct.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()

		stopWG := &sync.WaitGroup{}

		if lct.discord != nil && lct.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				for _, removeHandler := range lct.discord.discordgoRemoveHandlerFuncs {
					removeHandler()
				}
				if discErr := lct.discord.session.Close(); discErr != nil {
					lct.logger.Error(
						"error closing discord session",
						tint.Err(discErr),
					)
				}
			}()
		}

		if lct.api != nil && lct.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				if apiErr := lct.api.httpServer.Shutdown(closeCtx); apiErr != nil {
					lct.logger.Error("error shutting down api", tint.Err(apiErr))
				}
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		lct.logger.InfoContext(
			ctx,
			"graceful shutdown complete",
			"duration", time.Since(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		go func() {
			_ = lct.api.httpServer.Close()
		}()
		return errors.New("graceful shutdown timed out")
	}
}
