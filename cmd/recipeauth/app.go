package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ra "github.com/panyam/recipeauth"
	"github.com/panyam/recipeauth/config"
	"github.com/panyam/recipeauth/notify"
	"github.com/panyam/recipeauth/oauth2"
)

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}

// newNotifier routes email codes to Postmark and phone codes to the SMS
// gateway. Outside production an unconfigured channel logs codes instead.
func newNotifier(cfg *config.Config, log *slog.Logger) (ra.Notifier, error) {
	router := &ra.RoutingNotifier{}
	if !cfg.IsProduction() {
		console := &ra.ConsoleNotifier{Logger: log}
		router.Email, router.Phone = console, console
	}

	if cfg.Notify.PostmarkServerToken != "" {
		pm, err := notify.NewPostmarkNotifier(notify.PostmarkConfig{
			ServerToken:  cfg.Notify.PostmarkServerToken,
			AccountToken: cfg.Notify.PostmarkAccountToken,
			From:         cfg.Notify.EmailFrom,
			ReplyTo:      cfg.Notify.EmailReplyTo,
		})
		if err != nil {
			return nil, err
		}
		router.Email = pm
	} else if cfg.IsProduction() {
		log.Warn("no email delivery configured, email logins will not receive codes")
	}

	if cfg.Notify.SMSToken != "" {
		sms := notify.NewSMSGateway(cfg.Notify.SMSToken, cfg.Notify.SMSURL, cfg.Notify.SMSSender)
		sms.CountryCode = cfg.Notify.SMSCountryCode
		router.Phone = sms
	} else if cfg.IsProduction() {
		log.Warn("no SMS delivery configured, phone logins will not receive codes")
	}
	return router, nil
}

// app is the assembled service
type app struct {
	auth    *ra.RecipeAuth
	handler http.Handler
}

func newApp(cfg *config.Config, b *backends, log *slog.Logger, reg *prometheus.Registry) (*app, error) {
	if cfg.Session.JWTSecret == "" {
		log.Error("RECIPEAUTH_JWT_SECRET is not set, every login will fail")
	}
	if cfg.OTP.Debug {
		log.Warn("debug OTP is on, codes are returned in /login responses")
	}

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		return nil, err
	}

	provider, err := oauth2.New(cfg.OAuth.Provider, oauth2.Credentials{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("oauth provider: %w", err)
	}
	if !provider.Configured() {
		log.Info("oauth login disabled, no client credentials", "provider", provider.Name())
	}

	var metrics *ra.Metrics
	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = ra.NewMetrics(reg)
	}

	issuer := cfg.Session.Issuer
	if issuer == "" {
		issuer = cfg.HTTP.SiteURL
	}
	tokens := ra.NewTokenService(cfg.Session.JWTSecret, issuer, b.users)
	tokens.TTL = cfg.Session.TTL
	resolver := ra.NewAccountResolver(b.users)

	auth := &ra.RecipeAuth{
		Tokens: tokens,
		OTP: &ra.OTPFlow{
			Store:    b.ephemeral,
			Resolver: resolver,
			Notifier: notifier,
			TTL:      cfg.OTP.TTL,
			Debug:    cfg.OTP.Debug,
			Metrics:  metrics,
			Logger:   log,
		},
		Federation: &ra.FederationFlow{
			Provider: provider,
			Store:    b.ephemeral,
			Resolver: resolver,
			Tokens:   tokens,
			Metrics:  metrics,
			Logger:   log,
		},
		Middleware:    &ra.Middleware{GuestPresenceOnly: cfg.Session.GuestPresenceOnly},
		BasePath:      cfg.HTTP.BasePath,
		CookieDomains: cfg.Session.CookieDomains,
		CookieName:    cfg.Session.CookieName,
		CookieSecure:  cfg.Session.CookieSecure,
		FrontendURL:   cfg.HTTP.FrontendURL,
		HealthChecks:  b.health,
		Metrics:       metrics,
		Logger:        log,
	}
	auth.EnsureDefaults()

	router := auth.Router()
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return &app{auth: auth, handler: router}, nil
}
