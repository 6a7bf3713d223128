// Command recipeauth serves the recipe auth API.
//
// Usage:
//
//	recipeauth          serve HTTP (and gRPC when RECIPEAUTH_GRPC_ADDR is set)
//	recipeauth purge    delete expired OTP challenges and OAuth states, then exit
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/panyam/recipeauth/config"
	authgrpc "github.com/panyam/recipeauth/grpc"
)

const purgeInterval = 10 * time.Minute

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("recipeauth exited", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	if len(args) > 0 {
		switch args[0] {
		case "purge":
			return purgeExpired(ctx, b.ephemeral, log)
		default:
			return fmt.Errorf("unknown command %q", args[0])
		}
	}

	a, err := newApp(cfg, b, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	return serve(ctx, cfg, a, b, log)
}

func serve(ctx context.Context, cfg *config.Config, a *app, b *backends, log *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTP.Addr, "base_path", a.auth.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.HTTP.GRPCAddr != "" {
		gs := newGRPCServer(a, log)
		lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error {
			log.Info("grpc listening", "addr", cfg.HTTP.GRPCAddr)
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	if _, ok := b.ephemeral.(expirer); ok {
		g.Go(func() error {
			ticker := time.NewTicker(purgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := purgeExpired(gctx, b.ephemeral, log); err != nil {
						log.Warn("purge failed", "error", err)
					}
				}
			}
		})
	}

	return g.Wait()
}

// newGRPCServer returns a server whose calls carry the caller's session.
// Host services register on it; the health service is public.
func newGRPCServer(a *app, log *slog.Logger) *grpc.Server {
	interceptors := authgrpc.NewInterceptorConfig(a.auth.Tokens,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
		healthpb.Health_List_FullMethodName,
	)
	interceptors.CookieName = a.auth.CookieName
	interceptors.Logger = log

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authgrpc.UnaryAuthInterceptor(interceptors)),
		grpc.ChainStreamInterceptor(authgrpc.StreamAuthInterceptor(interceptors)),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}
