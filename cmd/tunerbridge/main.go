// Command tunerbridge exposes a regional streaming-TV account as a
// tuner-appliance-compatible network device: discovery, channel lineup,
// EPG, and live restreaming, one listener per configured market (or one
// multiplexed listener spanning all of them).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tunerbridge/tunerbridge/internal/config"
	"github.com/tunerbridge/tunerbridge/internal/credentials"
	"github.com/tunerbridge/tunerbridge/internal/facilities"
	"github.com/tunerbridge/tunerbridge/internal/geo"
	"github.com/tunerbridge/tunerbridge/internal/httpclient"
	"github.com/tunerbridge/tunerbridge/internal/logging"
	"github.com/tunerbridge/tunerbridge/internal/station"
	"github.com/tunerbridge/tunerbridge/internal/supervisor"
	"github.com/tunerbridge/tunerbridge/internal/tuner"
)

func main() {
	configFile := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tunerbridge:", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("tunerbridge: exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	client := httpclient.New()

	creds, err := credentials.New(ctx, cfg.Username, cfg.Password, cfg.DisableDonationCheck, client)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	markets, err := facilities.DMAsFromUpstream(ctx, client)
	if err != nil {
		return fmt.Errorf("fetching market catalog: %w", err)
	}

	facStore := facilities.New(cfg.CacheDir, client)
	if err := facStore.Load(ctx, markets); err != nil {
		return fmt.Errorf("loading facilities index: %w", err)
	}

	tree := supervisor.New(log.Logger)
	tree.Add(supervisor.Func(func(ctx context.Context) error {
		facStore.Run(ctx, func(ctx context.Context) ([]facilities.Market, error) {
			return facilities.DMAsFromUpstream(ctx, client)
		})
		return ctx.Err()
	}))

	zipcodes := cfg.Zipcodes
	if len(cfg.OverrideZipcodes) > 0 {
		zipcodes = cfg.OverrideZipcodes
	}

	var services []station.Provider
	if cfg.Multiplex {
		for _, zip := range zipcodes {
			market, err := geo.Resolve(ctx, client, []string{zip})
			if err != nil {
				log.Warn().Err(err).Str("zip", zip).Msg("tunerbridge: skipping unresolvable zipcode")
				continue
			}
			svc, err := newStationService(ctx, cfg, market, client, creds, facStore)
			if err != nil {
				log.Warn().Err(err).Str("zip", zip).Msg("tunerbridge: skipping market")
				continue
			}
			services = append(services, svc)
			tree.Add(svc)
		}
		if len(services) == 0 {
			return fmt.Errorf("no markets resolved from configured zipcodes")
		}
	} else {
		market, err := geo.Resolve(ctx, client, zipcodes)
		if err != nil {
			return fmt.Errorf("resolving market: %w", err)
		}
		svc, err := newStationService(ctx, cfg, market, client, creds, facStore)
		if err != nil {
			return fmt.Errorf("building station service: %w", err)
		}
		services = append(services, svc)
		tree.Add(svc)
	}

	providers := services
	if cfg.Multiplex {
		remapTable, err := remapTableFromConfig(cfg)
		if err != nil {
			return err
		}
		mux := station.NewMultiplexer(cfg.UUID, services, cfg.Remap, remapTable)
		if cfg.RemapFile != "" {
			if err := config.WatchRemapFile(ctx, cfg.RemapFile, mux.SetRemapTable); err != nil {
				log.Warn().Err(err).Msg("tunerbridge: remap file watch disabled")
			}
		}
		providers = []station.Provider{mux}
	}

	errCh := tree.ServeBackground(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range providers {
		i, provider := i, provider
		baseURL := cfg.BaseURL(cfg.BindAddress, i)
		srv := &tuner.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port+i),
			BaseURL:      baseURL,
			Config:       cfg,
			Provider:     provider,
			Credentials:  creds,
			StreamClient: httpclient.New(),
			DeviceID:     tuner.DeriveDeviceID(provider.UUID()),
			ServiceUUID:  provider.UUID().String(),
		}
		if !cfg.SSDPDisabled {
			tuner.StartSSDP(gctx, cfg.FriendlyName, baseURL, srv.DeviceID)
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr) })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-errCh:
			return err
		}
	})

	return g.Wait()
}

func newStationService(ctx context.Context, cfg *config.Config, market geo.Market, client *httpclient.Client, creds *credentials.Credentials, facStore *facilities.Store) (*station.Service, error) {
	return station.New(ctx, cfg.UUID, market, cfg.Days, time.Duration(cfg.CacheTimeout)*time.Second,
		cfg.DisableStationCache, cfg.RewriteEndpoint, client, creds, facStore)
}

func remapTableFromConfig(cfg *config.Config) (map[string]config.ChannelRemapEntry, error) {
	if cfg.RemapFile == "" {
		return nil, nil
	}
	table, err := config.LoadRemapFile(cfg.RemapFile)
	if err != nil {
		return nil, fmt.Errorf("loading remap file: %w", err)
	}
	return table, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("tunerbridge: metrics listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
