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

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	dslog "github.com/grafana/dskit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"

	"github.com/videx-project/videx/modules/frontend"
	"github.com/videx-project/videx/modules/registry"
	"github.com/videx-project/videx/pkg/util/log"
)

const shutdownTimeout = 10 * time.Second

type config struct {
	ServerIP  string `yaml:"server_ip"`
	Port      int    `yaml:"port"`
	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format"`

	Registry registry.Config `yaml:"registry"`
	Frontend frontend.Config `yaml:"frontend"`
}

func (cfg *config) registerFlagsAndApplyDefaults(f *flag.FlagSet) {
	f.StringVar(&cfg.ServerIP, "server_ip", "0.0.0.0", "address to listen on")
	f.IntVar(&cfg.Port, "port", 5001, "port to listen on")
	f.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	f.StringVar(&cfg.LogFormat, "log-format", "logfmt", "log format, logfmt or json")

	cfg.Registry.RegisterFlagsAndApplyDefaults("registry.", f)
	cfg.Frontend.RegisterFlagsAndApplyDefaults("frontend.", f)
}

func loadConfig() (*config, error) {
	var configFile string

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configFile, "config.file", "", "optional yaml configuration file")

	cfg := &config{}
	cfg.registerFlagsAndApplyDefaults(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(buf, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		// flags win over the file
		if err := fs.Parse(os.Args[1:]); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	var logLevel dslog.Level
	_ = logLevel.Set("info")
	if cfg.Debug {
		_ = logLevel.Set("debug")
	}
	logger := log.InitLogger(cfg.LogFormat, logLevel)

	reg := registry.New(cfg.Registry)
	fe := frontend.New(cfg.Frontend, reg)

	router := mux.NewRouter()
	fe.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.ServerIP, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		level.Info(logger).Log("msg", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	level.Info(logger).Log("msg", "videx statistics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "server failed", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "videx statistics server stopped")
}
