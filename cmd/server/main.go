package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/authstate"
	"github.com/mprlab/authbridge/internal/credstore"
	"github.com/mprlab/authbridge/internal/directory"
	"github.com/mprlab/authbridge/internal/guard"
	"github.com/mprlab/authbridge/internal/providers"
	"github.com/mprlab/authbridge/internal/providers/dbcred"
	"github.com/mprlab/authbridge/internal/providers/hosted"
	"github.com/mprlab/authbridge/internal/providers/sessionsvc"
	"github.com/mprlab/authbridge/internal/providers/staticcred"
	"github.com/mprlab/authbridge/internal/tokenstore"
	"github.com/mprlab/authbridge/internal/tokenstorepg"
	"github.com/mprlab/authbridge/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var dialSessionKV = func(ctx context.Context, address string, password string, database int) (sessionsvc.KV, error) {
	return sessionsvc.DialRedisKV(ctx, address, password, database)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authbridge",
		Short:   "Auth service with interchangeable backends, route guarding, and session cookies",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("provider", "", "Provider kind (static, jwt, hosted, database, session, oidc); empty auto-detects from configuration")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().StringSlice("ignored_paths", []string{"/healthz"}, "Path globs skipped by the route guard")
	rootCmd.Flags().StringSlice("public_paths", []string{"/auth/**"}, "Path globs reachable without a session")
	rootCmd.Flags().StringSlice("protected_paths", []string{"/api/**"}, "Path globs requiring a session")
	rootCmd.Flags().Bool("protect_by_default", false, "Require a session for paths matching no glob")
	rootCmd.Flags().Duration("session_ttl", 30*time.Minute, "Session lifetime")
	rootCmd.Flags().Duration("refresh_ttl", 60*24*time.Hour, "Refresh token lifetime")
	rootCmd.Flags().String("credential_store_path", "", "File path for persisted session credentials; empty keeps them in memory")
	rootCmd.Flags().StringSlice("static_users", []string{}, "Static credentials as username:password or username:password:role|role")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for the jwt provider")
	rootCmd.Flags().String("jwt_issuer", "authbridge", "Issuer claim for the jwt provider")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://) for the database provider, user directory, and refresh tokens")
	rootCmd.Flags().String("hosted_base_url", "", "Base URL of the hosted auth API")
	rootCmd.Flags().String("hosted_api_key", "", "API key for the hosted auth API")
	rootCmd.Flags().String("redis_addr", "", "Redis address for the session provider")
	rootCmd.Flags().String("redis_password", "", "Redis password for the session provider")
	rootCmd.Flags().Int("redis_db", 0, "Redis database index for the session provider")
	rootCmd.Flags().String("oidc_issuer_url", "", "OpenID Connect issuer URL")
	rootCmd.Flags().String("oidc_client_id", "", "OAuth client ID for the oidc provider")
	rootCmd.Flags().String("oidc_client_secret", "", "OAuth client secret for the oidc provider")
	rootCmd.Flags().String("oidc_redirect_url", "", "Callback URL registered with the OpenID Connect issuer")
	rootCmd.Flags().StringSlice("oidc_scopes", []string{}, "Extra OAuth scopes for the oidc provider")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID for direct ID-token assertions")

	for _, name := range []string{
		"listen_addr", "provider", "cookie_domain", "dev_insecure_http",
		"enable_cors", "cors_allowed_origins",
		"ignored_paths", "public_paths", "protected_paths", "protect_by_default",
		"session_ttl", "refresh_ttl", "credential_store_path", "static_users",
		"jwt_signing_key", "jwt_issuer", "database_url",
		"hosted_base_url", "hosted_api_key",
		"redis_addr", "redis_password", "redis_db",
		"oidc_issuer_url", "oidc_client_id", "oidc_client_secret", "oidc_redirect_url", "oidc_scopes",
		"google_web_client_id",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeInvalidProviderKind     = "config.invalid_provider"
	configCodeInvalidStaticUser       = "config.invalid_static_user"
	configCodeMissingCORSOrigins      = "config.missing_cors_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// ServerConfig is the validated runtime configuration.
type ServerConfig struct {
	ListenAddr          string
	ProviderKind        string
	CookieDomain        string
	DevInsecureHTTP     bool
	EnableCORS          bool
	CORSAllowedOrigins  []string
	IgnoredPaths        []string
	PublicPaths         []string
	ProtectedPaths      []string
	ProtectByDefault    bool
	SessionTTL          time.Duration
	RefreshTTL          time.Duration
	CredentialStorePath string
	StaticUsers         []string
	JWTSigningKey       string
	JWTIssuer           string
	DatabaseURL         string
	HostedBaseURL       string
	HostedAPIKey        string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	OIDCIssuerURL       string
	OIDCClientID        string
	OIDCClientSecret    string
	OIDCRedirectURL     string
	OIDCScopes          []string
	GoogleWebClientID   string
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (ServerConfig, error) {
	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	providerKind := viper.GetString("provider")
	if providerKind != "" {
		if _, parseErr := authkit.ParseKind(providerKind); parseErr != nil {
			return ServerConfig{}, configError(configCodeInvalidProviderKind, fmt.Sprintf("unknown provider kind %q", providerKind))
		}
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return ServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	return ServerConfig{
		ListenAddr:          viper.GetString("listen_addr"),
		ProviderKind:        providerKind,
		CookieDomain:        viper.GetString("cookie_domain"),
		DevInsecureHTTP:     viper.GetBool("dev_insecure_http"),
		EnableCORS:          enableCORS,
		CORSAllowedOrigins:  corsAllowedOrigins,
		IgnoredPaths:        viper.GetStringSlice("ignored_paths"),
		PublicPaths:         viper.GetStringSlice("public_paths"),
		ProtectedPaths:      viper.GetStringSlice("protected_paths"),
		ProtectByDefault:    viper.GetBool("protect_by_default"),
		SessionTTL:          sessionTTL,
		RefreshTTL:          refreshTTL,
		CredentialStorePath: viper.GetString("credential_store_path"),
		StaticUsers:         viper.GetStringSlice("static_users"),
		JWTSigningKey:       viper.GetString("jwt_signing_key"),
		JWTIssuer:           viper.GetString("jwt_issuer"),
		DatabaseURL:         viper.GetString("database_url"),
		HostedBaseURL:       viper.GetString("hosted_base_url"),
		HostedAPIKey:        viper.GetString("hosted_api_key"),
		RedisAddr:           viper.GetString("redis_addr"),
		RedisPassword:       viper.GetString("redis_password"),
		RedisDB:             viper.GetInt("redis_db"),
		OIDCIssuerURL:       viper.GetString("oidc_issuer_url"),
		OIDCClientID:        viper.GetString("oidc_client_id"),
		OIDCClientSecret:    viper.GetString("oidc_client_secret"),
		OIDCRedirectURL:     viper.GetString("oidc_redirect_url"),
		OIDCScopes:          viper.GetStringSlice("oidc_scopes"),
		GoogleWebClientID:   viper.GetString("google_web_client_id"),
	}, nil
}

func parseStaticUsers(entries []string) ([]staticcred.Credential, error) {
	credentials := make([]staticcred.Credential, 0, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || parts[1] == "" {
			return nil, configError(configCodeInvalidStaticUser, fmt.Sprintf("static user %q must be username:password", entry))
		}
		credential := staticcred.Credential{
			Username: strings.TrimSpace(parts[0]),
			Password: parts[1],
		}
		if len(parts) == 3 && parts[2] != "" {
			credential.Roles = strings.Split(parts[2], "|")
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func buildProviderConfig(ctx context.Context, serverConfig ServerConfig, store credstore.Store, logger *zap.Logger) (providers.Config, error) {
	providerConfig := providers.Config{}

	staticUsers, parseErr := parseStaticUsers(serverConfig.StaticUsers)
	if parseErr != nil {
		return providers.Config{}, parseErr
	}
	providerConfig.Static.Users = staticUsers
	providerConfig.Static.SessionTimeout = serverConfig.SessionTTL
	providerConfig.Static.Store = store
	providerConfig.Static.Logger = logger

	if serverConfig.JWTSigningKey != "" {
		userDirectory, refreshTokens, buildErr := buildJWTBackends(ctx, serverConfig.DatabaseURL, logger)
		if buildErr != nil {
			return providers.Config{}, buildErr
		}
		providerConfig.JWT.SigningKey = []byte(serverConfig.JWTSigningKey)
		providerConfig.JWT.Issuer = serverConfig.JWTIssuer
		providerConfig.JWT.AccessTTL = serverConfig.SessionTTL
		providerConfig.JWT.RefreshTTL = serverConfig.RefreshTTL
		providerConfig.JWT.Directory = userDirectory
		providerConfig.JWT.RefreshTokens = refreshTokens
		providerConfig.JWT.Store = store
		providerConfig.JWT.Logger = logger
	}

	providerConfig.Hosted.BaseURL = serverConfig.HostedBaseURL
	providerConfig.Hosted.APIKey = serverConfig.HostedAPIKey
	providerConfig.Hosted.Store = store
	providerConfig.Hosted.Logger = logger

	providerConfig.Database.DatabaseURL = serverConfig.DatabaseURL
	providerConfig.Database.SessionTTL = serverConfig.SessionTTL
	providerConfig.Database.Store = store
	providerConfig.Database.Logger = logger

	if serverConfig.RedisAddr != "" {
		kv, dialErr := dialSessionKV(ctx, serverConfig.RedisAddr, serverConfig.RedisPassword, serverConfig.RedisDB)
		if dialErr != nil {
			return providers.Config{}, dialErr
		}
		sessionDirectory, directoryErr := buildUserDirectory(ctx, serverConfig.DatabaseURL)
		if directoryErr != nil {
			return providers.Config{}, directoryErr
		}
		providerConfig.Session.KV = kv
		providerConfig.Session.Directory = sessionDirectory
		providerConfig.Session.SessionTTL = serverConfig.SessionTTL
		providerConfig.Session.Store = store
		providerConfig.Session.Logger = logger
	}

	providerConfig.OIDC.IssuerURL = serverConfig.OIDCIssuerURL
	providerConfig.OIDC.ClientID = serverConfig.OIDCClientID
	providerConfig.OIDC.ClientSecret = serverConfig.OIDCClientSecret
	providerConfig.OIDC.RedirectURL = serverConfig.OIDCRedirectURL
	providerConfig.OIDC.Scopes = serverConfig.OIDCScopes
	providerConfig.OIDC.GoogleClientID = serverConfig.GoogleWebClientID
	providerConfig.OIDC.Store = store
	providerConfig.OIDC.Logger = logger

	return providerConfig, nil
}

func buildUserDirectory(ctx context.Context, databaseURL string) (directory.Directory, error) {
	if databaseURL == "" {
		return directory.NewMemoryDirectory(), nil
	}
	return directory.NewDatabaseDirectory(ctx, databaseURL)
}

func buildJWTBackends(ctx context.Context, databaseURL string, logger *zap.Logger) (directory.Directory, tokenstore.Store, error) {
	userDirectory, directoryErr := buildUserDirectory(ctx, databaseURL)
	if directoryErr != nil {
		return nil, nil, directoryErr
	}
	switch {
	case databaseURL == "":
		logger.Info("using in-memory refresh token store")
		return userDirectory, tokenstore.NewMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		pool, poolErr := tokenstorepg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := tokenstorepg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, nil, schemaErr
		}
		logger.Info("using pgx refresh token store")
		return userDirectory, tokenstorepg.NewStore(pool), nil
	default:
		refreshTokens, storeErr := tokenstore.NewDatabaseStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, nil, storeErr
		}
		logger.Info("using persistent refresh token store")
		return userDirectory, refreshTokens, nil
	}
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	if commandContext == nil {
		commandContext = context.Background()
	}
	contextValue := commandContext.Value(serverConfigContextKey)
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	store, storeErr := buildCredentialStore(serverConfig.CredentialStorePath, logger)
	if storeErr != nil {
		return storeErr
	}

	providerConfig, buildErr := buildProviderConfig(commandContext, serverConfig, store, logger)
	if buildErr != nil {
		return buildErr
	}

	var kind authkit.Kind
	if serverConfig.ProviderKind != "" {
		parsed, parseErr := authkit.ParseKind(serverConfig.ProviderKind)
		if parseErr != nil {
			return parseErr
		}
		kind = parsed
	} else {
		detected, detectErr := providers.Detect(providerConfig)
		if detectErr != nil {
			return detectErr
		}
		kind = detected
	}
	providerConfig.Kind = kind

	provider, providerErr := providers.New(commandContext, providerConfig)
	if providerErr != nil {
		return providerErr
	}

	metricsRecorder := authkit.NewCounterMetrics()
	manager, managerErr := authstate.NewManager(authstate.Options{
		Provider: provider,
		Logger:   logger,
		Metrics:  metricsRecorder,
	})
	if managerErr != nil {
		return managerErr
	}
	manager.Start(commandContext)
	defer manager.Close()

	backgroundCtx, backgroundCancel := context.WithCancel(commandContext)
	defer backgroundCancel()
	switch typed := provider.(type) {
	case *hosted.Provider:
		typed.StartAutoRefresh(backgroundCtx, time.Minute)
	case *dbcred.Provider:
		go runSessionJanitor(backgroundCtx, typed, logger)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	redirects := authkit.DefaultRedirects()

	cookieConfig := web.DefaultCookieConfig()
	cookieConfig.Domain = serverConfig.CookieDomain
	cookieConfig.Secure = !serverConfig.DevInsecureHTTP
	if serverConfig.EnableCORS {
		cookieConfig.SameSiteMode = http.SameSiteNoneMode
	}

	routeGuard := guard.New(guard.Options{
		IgnoredPaths:     serverConfig.IgnoredPaths,
		PublicPaths:      serverConfig.PublicPaths,
		ProtectedPaths:   serverConfig.ProtectedPaths,
		ProtectByDefault: serverConfig.ProtectByDefault,
		Extractors: []guard.Extractor{
			guard.ProviderTokenExtractor(provider, cookieConfig.SessionCookieName),
		},
		Redirects: redirects,
		Logger:    logger,
		Metrics:   metricsRecorder,
	})
	router.Use(routeGuard.Middleware())

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	handlers := web.NewHandlers(manager, redirects, cookieConfig, logger)
	web.MountAuthRoutes(router, handlers)

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", serverConfig.ListenAddr),
		zap.String("provider", string(kind)))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

const sessionJanitorInterval = time.Hour

// runSessionJanitor drops expired session and reset rows on a fixed cadence.
func runSessionJanitor(ctx context.Context, provider *dbcred.Provider, logger *zap.Logger) {
	ticker := time.NewTicker(sessionJanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := provider.PurgeExpired(ctx); err != nil {
				logger.Warn("expired session purge failed", zap.Error(err))
			}
		}
	}
}

func buildCredentialStore(path string, logger *zap.Logger) (credstore.Store, error) {
	if path == "" {
		return credstore.NewMemory(), nil
	}
	fileStore, fileErr := credstore.NewFile(path)
	if fileErr != nil {
		return nil, fileErr
	}
	logger.Info("persisting session credentials", zap.String("path", path))
	return fileStore, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
