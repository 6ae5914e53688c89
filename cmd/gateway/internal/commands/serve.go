package commands

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

	"connectrpc.com/connect"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/platform-gateway/internal/auth"
	"github.com/wolfeidau/platform-gateway/internal/client"
	httpmiddleware "github.com/wolfeidau/platform-gateway/internal/http"
	"github.com/wolfeidau/platform-gateway/internal/identity"
	"github.com/wolfeidau/platform-gateway/internal/logger"
	"github.com/wolfeidau/platform-gateway/internal/rpc"
	"github.com/wolfeidau/platform-gateway/internal/rpc/connectrpc"
	"github.com/wolfeidau/platform-gateway/internal/rpc/sqsrpc"
	"github.com/wolfeidau/platform-gateway/internal/server"
	"github.com/wolfeidau/platform-gateway/internal/telemetry"
	"github.com/wolfeidau/platform-gateway/internal/users"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ServeCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"GATEWAY_LISTEN"`
	Cert            string        `help:"path to TLS cert file, plain HTTP when empty" default:"" env:"GATEWAY_TLS_CERT"`
	Key             string        `help:"path to TLS key file" default:"" env:"GATEWAY_TLS_KEY"`
	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests on shutdown" default:"15s" env:"GATEWAY_SHUTDOWN_TIMEOUT"`

	// Development and operational modes
	NoAuth      bool    `help:"disable authentication for API endpoints (development only)" default:"false" env:"GATEWAY_NO_AUTH"`
	Tracing     bool    `help:"enable tracing" default:"false" env:"GATEWAY_TRACING"`
	SampleRatio float64 `help:"fraction of root traces sampled" default:"1" env:"GATEWAY_TRACE_SAMPLE_RATIO"`

	// Platform transport
	Transport string       `help:"transport to the platform service (sqs or connect)" default:"sqs" env:"GATEWAY_TRANSPORT" enum:"sqs,connect"`
	SQS       SQSFlags     `embed:"" prefix:"sqs-"`
	Connect   ConnectFlags `embed:"" prefix:"connect-"`

	Identity IdentityFlags `embed:"" prefix:"identity-"`
	Auth     AuthFlags     `embed:"" prefix:"auth-"`
	GraphQL  GraphQLFlags  `embed:"" prefix:"graphql-"`
	HTTP     HTTPFlags     `embed:"" prefix:"http-"`
}

// SQSFlags configures the queue transport.
type SQSFlags struct {
	RequestQueueURL   string        `help:"queue the platform service consumes commands from" env:"GATEWAY_SQS_REQUEST_QUEUE_URL"`
	ReplyQueueURL     string        `help:"queue this gateway receives replies on" env:"GATEWAY_SQS_REPLY_QUEUE_URL"`
	Region            string        `help:"AWS region" default:"us-east-1" env:"AWS_REGION"`
	Endpoint          string        `help:"AWS endpoint (for LocalStack)" default:"" env:"AWS_ENDPOINT"`
	ReplyTimeout      time.Duration `help:"time to wait for a command reply" default:"30s" env:"GATEWAY_SQS_REPLY_TIMEOUT"`
	ConnectTimeout    time.Duration `help:"time allowed to reach the queues on startup" default:"30s" env:"GATEWAY_SQS_CONNECT_TIMEOUT"`
	ReconnectDelay    time.Duration `help:"initial delay between reconnect attempts" default:"5s" env:"GATEWAY_SQS_RECONNECT_DELAY"`
	HeartbeatInterval time.Duration `help:"interval between queue health probes" default:"30s" env:"GATEWAY_SQS_HEARTBEAT_INTERVAL"`
	WaitTime          int32         `help:"reply queue long poll in seconds" default:"20" env:"GATEWAY_SQS_WAIT_TIME"`
	MaxMessageBytes   int           `help:"largest command message the request queue accepts" default:"262144" env:"GATEWAY_SQS_MAX_MESSAGE_BYTES"`
}

func (s *SQSFlags) Validate() error {
	if s.WaitTime < 0 || s.WaitTime > 20 {
		return errors.New("sqs wait time must be between 0 and 20 seconds")
	}
	if s.MaxMessageBytes < 1<<10 || s.MaxMessageBytes > 1<<20 {
		return errors.New("sqs max message bytes must be between 1024 and 1048576")
	}
	return nil
}

func (s *SQSFlags) config() sqsrpc.Config {
	return sqsrpc.Config{
		RequestQueueURL:   s.RequestQueueURL,
		ReplyQueueURL:     s.ReplyQueueURL,
		ReplyTimeout:      s.ReplyTimeout,
		ConnectTimeout:    s.ConnectTimeout,
		ReconnectDelay:    s.ReconnectDelay,
		HeartbeatInterval: s.HeartbeatInterval,
		WaitTimeSeconds:   s.WaitTime,
		MaxMessageBytes:   s.MaxMessageBytes,
	}
}

// ConnectFlags configures the Connect transport.
type ConnectFlags struct {
	URL     string        `help:"platform service base URL" default:"" env:"GATEWAY_CONNECT_URL"`
	Timeout time.Duration `help:"per command timeout" default:"30s" env:"GATEWAY_CONNECT_TIMEOUT"`
}

// IdentityFlags configures the identity provider's management API client.
type IdentityFlags struct {
	Domain          string        `help:"identity provider tenant domain" env:"GATEWAY_IDENTITY_DOMAIN"`
	ClientID        string        `help:"management API client ID" env:"GATEWAY_IDENTITY_CLIENT_ID"`
	ClientSecret    string        `help:"management API client secret" env:"GATEWAY_IDENTITY_CLIENT_SECRET"`
	Connection      string        `help:"database connection users are created in" default:"Username-Password-Authentication" env:"GATEWAY_IDENTITY_CONNECTION"`
	DefaultPassword string        `help:"password used when a create request has none" default:"" env:"GATEWAY_IDENTITY_DEFAULT_PASSWORD"`
	BaseURL         string        `help:"override the management API base URL" default:"" env:"GATEWAY_IDENTITY_BASE_URL" hidden:""`
	Timeout         time.Duration `help:"management API request timeout" default:"10s" env:"GATEWAY_IDENTITY_TIMEOUT"`
}

func (s *IdentityFlags) Validate() error {
	if s.Domain == "" {
		return errors.New("identity provider domain is required (--identity-domain or GATEWAY_IDENTITY_DOMAIN)")
	}
	if s.ClientID == "" || s.ClientSecret == "" {
		return errors.New("identity client credentials are required (--identity-client-id and --identity-client-secret)")
	}
	if s.DefaultPassword != "" && len(s.DefaultPassword) < 8 {
		return errors.New("identity default password must be at least 8 characters")
	}
	return nil
}

func (s *IdentityFlags) config() identity.Config {
	return identity.Config{
		Domain:          s.Domain,
		ClientID:        s.ClientID,
		ClientSecret:    s.ClientSecret,
		Connection:      s.Connection,
		DefaultPassword: s.DefaultPassword,
		BaseURL:         s.BaseURL,
	}
}

// AuthFlags configures inbound request authentication.
type AuthFlags struct {
	Issuer   string   `help:"expected JWT issuer, defaults to https://{identity-domain}/" default:"" env:"GATEWAY_AUTH_ISSUER"`
	Audience string   `help:"expected JWT audience" default:"" env:"GATEWAY_AUTH_AUDIENCE"`
	JWKSURL  string   `help:"JWKS URL, defaults to the issuer's /.well-known/jwks.json" default:"" env:"GATEWAY_AUTH_JWKS_URL"`
	CacheDir string   `help:"directory for the JWKS HTTP cache, in memory when empty" default:"" env:"GATEWAY_AUTH_CACHE_DIR"`
	APIKeys  []string `help:"API keys accepted on api-key routes" env:"GATEWAY_AUTH_API_KEYS"`
}

func (s *AuthFlags) issuer(domain string) string {
	if s.Issuer != "" {
		return s.Issuer
	}
	return "https://" + domain + "/"
}

func (s *AuthFlags) jwksURL(domain string) string {
	if s.JWKSURL != "" {
		return s.JWKSURL
	}
	return strings.TrimRight(s.issuer(domain), "/") + "/.well-known/jwks.json"
}

// GraphQLFlags configures the GraphQL proxy.
type GraphQLFlags struct {
	URL     string        `help:"GraphQL upstream URL, the proxy is disabled when empty" default:"" env:"GATEWAY_GRAPHQL_URL"`
	CAFile  string        `help:"PEM bundle trusted for the upstream in addition to the system roots" default:"" env:"GATEWAY_GRAPHQL_CA_FILE"`
	Timeout time.Duration `help:"upstream request timeout" default:"30s" env:"GATEWAY_GRAPHQL_TIMEOUT"`
}

// HTTPFlags configures request limits.
type HTTPFlags struct {
	ChunkSize      int      `help:"ids per pricing breakdown command" default:"5" env:"GATEWAY_CHUNK_SIZE"`
	MaxBodyBytes   int64    `help:"maximum JSON request body, derived from the transport when 0" default:"0" env:"GATEWAY_MAX_BODY_BYTES"`
	MaxUploadBytes int64    `help:"maximum multipart upload, derived from the transport when 0" default:"0" env:"GATEWAY_MAX_UPLOAD_BYTES"`
	RateLimit      float64  `help:"requests per second per client IP, 0 disables" default:"0" env:"GATEWAY_RATE_LIMIT"`
	RateBurst      int      `help:"rate limit burst" default:"20" env:"GATEWAY_RATE_BURST"`
	TrustedProxies []string `help:"CIDRs or addresses of proxies whose X-Forwarded-For is believed" env:"GATEWAY_TRUSTED_PROXIES"`
}

func (s *HTTPFlags) Validate() error {
	if s.ChunkSize < 1 {
		return errors.New("chunk size must be at least 1")
	}
	if s.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if s.MaxBodyBytes < 0 || s.MaxUploadBytes < 0 {
		return errors.New("body limits must not be negative")
	}
	if _, err := httpmiddleware.ParseTrustedProxies(s.TrustedProxies); err != nil {
		return err
	}
	return nil
}

func (s *HTTPFlags) config() server.Config {
	return server.Config{
		ChunkSize:      s.ChunkSize,
		MaxBodyBytes:   s.MaxBodyBytes,
		MaxUploadBytes: s.MaxUploadBytes,
		RateLimit:      s.RateLimit,
		RateBurst:      s.RateBurst,
		TrustedProxies: s.TrustedProxies,
	}
}

// httpConfig fills unset body limits from the SQS message quota so requests
// the queue would refuse are rejected before they are sent.
func (c *ServeCmd) httpConfig() server.Config {
	cfg := c.HTTP.config()
	if c.Transport != "sqs" {
		return cfg
	}

	body, upload := sqsrpc.BodyLimits(c.SQS.MaxMessageBytes)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = body
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = upload
	}
	return cfg
}

// Validate checks settings that span flag groups.
func (c *ServeCmd) Validate() error {
	switch c.Transport {
	case "sqs":
		if c.SQS.RequestQueueURL == "" || c.SQS.ReplyQueueURL == "" {
			return errors.New("sqs transport needs --sqs-request-queue-url and --sqs-reply-queue-url")
		}
	case "connect":
		if c.Connect.URL == "" {
			return errors.New("connect transport needs --connect-url")
		}
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS needs both --cert and --key")
	}
	if !c.NoAuth && c.Auth.Audience == "" {
		return errors.New("JWT audience is required (--auth-audience or GATEWAY_AUTH_AUDIENCE) unless --no-auth is set")
	}
	return nil
}

// platform is the command channel with its health.
type platform interface {
	rpc.Caller
	server.HealthChecker
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Str("transport", c.Transport).Msg("Starting gateway")

	if c.Tracing {
		log.Info().Float64("sample_ratio", c.SampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "platform-gateway",
			Version:     globals.Version,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	channel, closeChannel, err := c.openPlatform(ctx, log)
	if err != nil {
		return err
	}
	defer closeChannel()

	caller := rpc.Instrument(channel)

	idp := identity.New(ctx, c.Identity.config(), client.NewInstrumentedHTTPClient(nil, c.Identity.Timeout))
	userService := users.NewService(caller, idp)

	var jwtVerifier *auth.JWTVerifier
	if c.NoAuth {
		log.Warn().Msg("Authentication is disabled (--no-auth). This should only be used in development!")
	} else {
		jwksURL := c.Auth.jwksURL(c.Identity.Domain)
		keys := auth.NewJWKSCache(jwksURL, client.NewCachingHTTPClient(c.Auth.CacheDir))
		jwtVerifier = auth.NewJWTVerifier(c.Auth.issuer(c.Identity.Domain), c.Auth.Audience, keys)
		log.Info().Str("issuer", c.Auth.issuer(c.Identity.Domain)).Str("jwks", jwksURL).Msg("JWT verification configured")
	}
	authn := auth.NewAuthenticator(jwtVerifier, c.Auth.APIKeys, c.NoAuth)

	httpCfg := c.httpConfig()
	log.Info().Int64("max_body_bytes", httpCfg.MaxBodyBytes).Int64("max_upload_bytes", httpCfg.MaxUploadBytes).Msg("Request body limits")

	srv := server.NewServer(httpCfg, caller, userService, authn).WithHealth(channel)

	if c.GraphQL.URL != "" {
		proxy, err := server.NewGraphQLProxy(server.GraphQLConfig{
			UpstreamURL: c.GraphQL.URL,
			CAFile:      c.GraphQL.CAFile,
			Timeout:     c.GraphQL.Timeout,
			MaxBody:     httpCfg.MaxBodyBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to create graphql proxy: %w", err)
		}
		srv = srv.WithGraphQL(proxy)
	}

	handler, err := srv.Handler()
	if err != nil {
		return err
	}

	httpServer := configureHTTPServer(c.Listen, otelhttp.NewHandler(handler, "gateway"))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Bool("auth", !c.NoAuth).Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", c.ShutdownTimeout).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

// openPlatform connects the configured transport. The returned func releases it.
func (c *ServeCmd) openPlatform(ctx context.Context, log zerolog.Logger) (platform, func(), error) {
	switch c.Transport {
	case "connect":
		httpClient := client.NewInstrumentedHTTPClient(nil, c.Connect.Timeout)
		channel, err := connectrpc.New(httpClient, c.Connect.URL,
			connect.WithInterceptors(logger.NewCommandRequests(log)))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connect client: %w", err)
		}
		log.Info().Str("url", c.Connect.URL).Msg("Using Connect transport")
		return channel, func() {}, nil

	default:
		awsCfg, err := loadAWSConfig(ctx, c.SQS.Region, c.SQS.Endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		channel := sqsrpc.New(sqs.NewFromConfig(awsCfg), c.SQS.config())
		if err := channel.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to command queues: %w", err)
		}
		log.Info().
			Str("request_queue", c.SQS.RequestQueueURL).
			Str("reply_queue", c.SQS.ReplyQueueURL).
			Msg("Using SQS transport")

		return channel, func() {
			if err := channel.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close command client")
			}
		}, nil
	}
}
