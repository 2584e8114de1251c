package lectern

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	apiPrefix                = "/api"
	apiPathLogin             = "/login"
	apiHealthCheck           = "/healthz"
	apiPathStatus            = "/status"
	apiPathConfig            = "/config"
	apiPathPause             = "/pause"
	apiPathResume            = "/resume"
	apiPathQuit              = "/quit"
	apiPathVersions          = "/versions"
	apiPathVersionDetail     = "/versions/:command"
	apiPathVersionsReload    = "/versions/reload"
	apiPathConfessions       = "/confessions"
	apiPathDailyPosts        = "/daily_posts"
	apiPathRunDailyPosts     = "/daily_posts/run"
	apiPathSetup             = "/admin/create"
	apiPathRegisterCommands  = "/discord/register_commands"
	apiPathDiscordGatewayBot = "/discord/gateway/bot"

	xRequestIDHeader = "X-Request-ID"

	// apiTokenTTL is the lifetime of a bearer token issued by login.
	apiTokenTTL = 6 * time.Hour

	apiTokenByteLength = 32
)

var structValidator = validator.New()

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

// API is the admin HTTP server: runtime config, Bible version
// management, daily post inspection, and bot lifecycle controls.
// Authentication is a bearer token issued by the login endpoint
// against the credentials stored in [RuntimeConfig].
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	tokensMu sync.Mutex
	tokens   map[string]time.Time

	lct *Lectern
}

func newAPI(lct *Lectern, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		tokens:              map[string]time.Time{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		lct:                 lct,
	}

	tlsCfg, e := tlsConfig(
		config.SSL.Cert,
		config.SSL.Key,
		config.SSL.TLSMinVersion,
	)
	if e != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", e)
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	r.Use(gin.Recovery())
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(config.CORS.GINConfig()),
	)

	r.POST(apiPathLogin, api.loginHandler)
	r.POST(apiPathSetup, api.adminSetup)
	r.GET(apiHealthCheck, api.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(api.authMiddleware())

	protected.GET(apiPathStatus, api.getStatus)
	protected.GET(apiPathConfig, api.getConfig)
	protected.PATCH(apiPathConfig, api.updateRuntimeConfig)
	protected.POST(apiPathPause, api.botPause)
	protected.POST(apiPathResume, api.botResume)
	protected.POST(apiPathQuit, api.botQuit)

	protected.GET(apiPathVersions, api.getVersions)
	protected.POST(apiPathVersions, api.createVersion)
	protected.POST(apiPathVersionsReload, api.reloadVersions)
	protected.PATCH(apiPathVersionDetail, api.updateVersion)
	protected.DELETE(apiPathVersionDetail, api.deleteVersion)

	protected.GET(apiPathConfessions, api.getConfessions)
	protected.GET(apiPathDailyPosts, api.getDailyPosts)
	protected.POST(apiPathRunDailyPosts, api.runDailyPosts)

	protected.POST(apiPathRegisterCommands, api.discordRegisterCommands)
	protected.GET(apiPathDiscordGatewayBot, api.getDiscordGatewayBot)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if e != nil {
			return e
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

// issueToken mints a bearer token and records its expiry.
func (a *API) issueToken() (string, error) {
	token, err := generateRandomHexString(apiTokenByteLength)
	if err != nil {
		return "", err
	}
	a.tokensMu.Lock()
	defer a.tokensMu.Unlock()
	a.tokens[token] = time.Now().Add(apiTokenTTL)
	return token, nil
}

func (a *API) tokenValid(token string) bool {
	a.tokensMu.Lock()
	defer a.tokensMu.Unlock()
	expiry, ok := a.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(a.tokens, token)
		return false
	}
	return true
}

func (a *API) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || !a.tokenValid(token) {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// adminSetup sets the initial admin credentials. Only available while
// no credentials exist; afterwards it always returns 403.
func (a *API) adminSetup(c *gin.Context) {
	a.lct.cfgMu.Lock()
	defer a.lct.cfgMu.Unlock()

	if !a.lct.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")

	var payload adminSetupPayload
	if e := c.ShouldBindJSON(&payload); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, httpError{Error: e.Error()})
		return
	}

	currentState := a.lct.runtimeConfig

	password, err := hashToken(payload.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		ginReplyError(c, "error setting admin credentials")
		return
	}

	if _, err = a.lct.writeDB.Updates(
		c.Request.Context(),
		currentState, map[string]any{
			columnRuntimeConfigAdminUsername: payload.Username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		ginReplyError(c, "error updating admin credentials")
		return
	}
	a.lct.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, httpReply{Message: "admin credentials set"})
}

func (a *API) loginHandler(c *gin.Context) {
	if !a.loginRequestLimiter.Allow() {
		c.AbortWithStatusJSON(
			http.StatusTooManyRequests,
			httpError{Error: "too many login attempts"},
		)
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	config := a.lct.RuntimeConfig()
	if config.AdminUsername == "" || config.AdminPassword == "" {
		c.AbortWithStatusJSON(
			http.StatusForbidden,
			httpError{Error: "admin credentials not configured"},
		)
		return
	}
	if req.Username != config.AdminUsername ||
		!verifyToken(req.Password, config.AdminPassword) {
		c.AbortWithStatusJSON(
			http.StatusUnauthorized,
			httpError{Error: "unauthorized"},
		)
		return
	}

	token, err := a.issueToken()
	if err != nil {
		ginReplyError(c, "error issuing token")
		return
	}
	c.JSON(
		http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(apiTokenTTL.Seconds()),
		},
	)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) getStatus(c *gin.Context) {
	config := a.lct.RuntimeConfig()
	a.requestMetricsMu.Lock()
	metrics := make(map[string]int, len(a.requestMetrics))
	for k, v := range a.requestMetrics {
		metrics[k] = v
	}
	a.requestMetricsMu.Unlock()

	var batchesRun int64
	if a.lct.dailyBread != nil {
		batchesRun = a.lct.dailyBread.BatchesRun()
	}

	var dailyPostCount, confessionCount int64
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(
		func() error {
			return a.lct.db.WithContext(ctx).
				Model(&DailyPostConfig{}).
				Count(&dailyPostCount).Error
		},
	)
	g.Go(
		func() error {
			return a.lct.db.WithContext(ctx).
				Model(&Confession{}).
				Count(&confessionCount).Error
		},
	)
	if err := g.Wait(); err != nil {
		ginContextLogger(c).Error("error gathering status", tint.Err(err))
		ginReplyError(c, "error gathering status")
		return
	}

	c.JSON(
		http.StatusOK, gin.H{
			"paused":             config.Paused,
			"discord_connected":  a.lct.discord.connected.Load(),
			"version_count":      a.lct.versionIndex.Len(),
			"daily_post_count":   dailyPostCount,
			"confession_count":   confessionCount,
			"daily_batches_run":  batchesRun,
			"api_request_counts": metrics,
			"uptime":             time.Since(a.lct.startedAt).String(),
		},
	)
}

func (a *API) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.lct.RuntimeConfig())
}

func (a *API) updateRuntimeConfig(c *gin.Context) {
	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := update.validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	config, err := a.lct.applyRuntimeConfigUpdate(c.Request.Context(), update)
	if err != nil {
		ginContextLogger(c).Error("error updating runtime config", tint.Err(err))
		ginReplyError(c, "error updating config")
		return
	}
	c.JSON(http.StatusOK, config)
}

func (a *API) setPaused(c *gin.Context, paused bool) {
	current := a.lct.RuntimeConfig()
	if current.Paused == paused {
		c.AbortWithStatusJSON(
			http.StatusConflict,
			httpError{Error: fmt.Sprintf("bot already paused=%t", paused)},
		)
		return
	}
	update := RuntimeConfigUpdate{Paused: &paused}
	config, err := a.lct.applyRuntimeConfigUpdate(c.Request.Context(), update)
	if err != nil {
		ginReplyError(c, "error updating config")
		return
	}
	c.JSON(http.StatusOK, config)
}

func (a *API) botPause(c *gin.Context) {
	a.setPaused(c, true)
}

func (a *API) botResume(c *gin.Context) {
	a.setPaused(c, false)
}

func (a *API) botQuit(c *gin.Context) {
	ginReplyMessage(c, "stopping")
	go a.lct.dbNotifier.Stop(context.Background())
}

func (a *API) getVersions(c *gin.Context) {
	versions, err := ListBibleVersions(c.Request.Context(), a.lct.db)
	if err != nil {
		ginReplyError(c, "error listing versions")
		return
	}
	c.JSON(http.StatusOK, versions)
}

// bibleVersionRequest is the admin payload for creating or updating a
// Bible version. Books is a mask expression like "Gen-Mal,Matt-Rev" or
// "OT,NT,Tob".
//
//nolint:lll // struct tags can't be split
type bibleVersionRequest struct {
	Command        string            `json:"command" binding:"required,lowercase"`
	Name           string            `json:"name" binding:"required"`
	Abbreviation   string            `json:"abbreviation" binding:"required"`
	Service        string            `json:"service" binding:"required"`
	ServiceVersion string            `json:"service_version" binding:"required"`
	RTL            bool              `json:"rtl"`
	Books          string            `json:"books" binding:"required"`
	BookMapping    map[string]string `json:"book_mapping,omitempty"`
}

// toModel validates the request payload fully before any write: the
// book mask expression, the mapping keys, and the provider identifier.
func (r bibleVersionRequest) toModel(services *ServiceManager) (*BibleVersion, error) {
	mask, err := ParseBookMask(r.Books)
	if err != nil {
		return nil, err
	}
	mapping := BookMapping(r.BookMapping)
	if err = mapping.Validate(); err != nil {
		return nil, err
	}
	if _, err = services.Provider(r.Service); err != nil {
		return nil, err
	}
	return &BibleVersion{
		Command:        r.Command,
		Name:           r.Name,
		Abbreviation:   r.Abbreviation,
		Service:        r.Service,
		ServiceVersion: r.ServiceVersion,
		RTL:            r.RTL,
		Books:          mask,
		BookMapping:    mapping,
	}, nil
}

func (a *API) createVersion(c *gin.Context) {
	var req bibleVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	version, err := req.toModel(a.lct.services)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err = a.lct.writeDB.Create(ctx, version); err != nil {
		ginContextLogger(c).Error("error creating version", tint.Err(err))
		ginReplyError(c, "error creating version")
		return
	}
	a.lct.dbNotifier.ReloadVersionIndex(ctx)
	c.JSON(http.StatusCreated, version)
}

func (a *API) updateVersion(c *gin.Context) {
	command := c.Param("command")
	ctx := c.Request.Context()

	existing, err := GetBibleVersion(ctx, a.lct.db, command)
	if err != nil {
		var notFound VersionNotFoundError
		if errors.As(err, &notFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: err.Error()})
			return
		}
		ginReplyError(c, "error loading version")
		return
	}

	var req bibleVersionRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	updated, err := req.toModel(a.lct.services)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	updated.ID = existing.ID

	if _, err = a.lct.writeDB.Save(ctx, updated); err != nil {
		ginContextLogger(c).Error("error updating version", tint.Err(err))
		ginReplyError(c, "error updating version")
		return
	}
	a.lct.dbNotifier.ReloadVersionIndex(ctx)
	c.JSON(http.StatusOK, updated)
}

func (a *API) deleteVersion(c *gin.Context) {
	command := c.Param("command")
	ctx := c.Request.Context()

	existing, err := GetBibleVersion(ctx, a.lct.db, command)
	if err != nil {
		var notFound VersionNotFoundError
		if errors.As(err, &notFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: err.Error()})
			return
		}
		ginReplyError(c, "error loading version")
		return
	}

	if _, err = a.lct.writeDB.Delete(existing); err != nil {
		ginContextLogger(c).Error("error deleting version", tint.Err(err))
		ginReplyError(c, "error deleting version")
		return
	}
	a.lct.dbNotifier.ReloadVersionIndex(ctx)
	ginReplyMessage(c, fmt.Sprintf("deleted version %q", command))
}

func (a *API) reloadVersions(c *gin.Context) {
	a.lct.dbNotifier.ReloadVersionIndex(c.Request.Context())
	ginReplyMessage(c, "version index reload triggered")
}

func (a *API) getConfessions(c *gin.Context) {
	confessions, err := ListConfessions(c.Request.Context(), a.lct.db)
	if err != nil {
		ginReplyError(c, "error listing confessions")
		return
	}
	c.JSON(http.StatusOK, confessions)
}

func (a *API) getDailyPosts(c *gin.Context) {
	var configs []DailyPostConfig
	err := a.lct.db.WithContext(c.Request.Context()).
		Order("next_post asc").
		Find(&configs).Error
	if err != nil {
		ginReplyError(c, "error listing daily posts")
		return
	}
	c.JSON(http.StatusOK, configs)
}

// runDailyPosts triggers an immediate batch evaluation, outside the
// normal cadence. Intended for operational debugging.
func (a *API) runDailyPosts(c *gin.Context) {
	if a.lct.dailyBread == nil {
		ginReplyError(c, "daily post scheduler not running")
		return
	}
	if err := a.lct.dailyBread.RunBatch(c.Request.Context(), time.Now()); err != nil {
		ginContextLogger(c).Error("error running daily post batch", tint.Err(err))
		ginReplyError(c, err.Error())
		return
	}
	ginReplyMessage(c, "batch complete")
}

func (a *API) discordRegisterCommands(c *gin.Context) {
	created, err := a.lct.discord.registerCommands()
	if err != nil {
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error registering commands"},
		)
		return
	}
	names := make([]string, 0, len(created))
	for _, cmd := range created {
		names = append(names, cmd.Name)
	}
	c.JSON(http.StatusOK, gin.H{"registered": names})
}

func (a *API) getDiscordGatewayBot(c *gin.Context) {
	gb, err := a.lct.discord.session.GatewayBot()
	if err != nil {
		ginReplyError(c, "error retrieving gateway bot")
		return
	}
	c.JSON(http.StatusOK, gb)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware returns a Gin middleware function for logging
// HTTP requests.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware increments the request count for each unique
// combination of HTTP method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
