package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ajp "github.com/jrialland/ajp-client"
	"github.com/jrialland/ajp-client/internal/config"
	"github.com/jrialland/ajp-client/internal/logging"
)

type options struct {
	configFile string
	listen     string
	upstream   string
	metrics    string
	fastHTTP   bool
	printURL   bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "ajpgateway",
		Short: "HTTP to AJP13 gateway",
		Long:  "ajpgateway accepts HTTP requests and forwards them to a servlet container over AJP13.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.printURL)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "configuration file (.toml, .yaml or .json)")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.upstream, "upstream", "", "AJP13 container address")
	cmd.Flags().StringVar(&opts.metrics, "metrics", "", "Prometheus metrics listen address")
	cmd.Flags().BoolVar(&opts.fastHTTP, "fasthttp", false, "serve using valyala/fasthttp")
	cmd.Flags().BoolVar(&opts.printURL, "printurl", false, "print the listen URL on stdout")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *options) (cfg *config.Config, err error) {
	if opts.configFile != "" {
		if cfg, err = config.Load(opts.configFile); err != nil {
			return
		}
	} else {
		cfg = config.Default()
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = opts.listen
	}
	if flags.Changed("upstream") {
		cfg.Upstream.Addr = opts.upstream
	}
	if flags.Changed("metrics") {
		cfg.Metrics = opts.metrics
	}
	if flags.Changed("fasthttp") {
		cfg.FastHTTP = opts.fastHTTP
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, printURL bool) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	metrics := ajp.NewMetrics("ajp")
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cc := cfg.ClientConfig()
	cc.Logger = logger
	cc.Metrics = metrics
	client := ajp.NewClient(cfg.Upstream.Addr, cc)
	startCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Upstream.DialTimeout))
	ready, err := client.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	if !ready {
		logger.Warn("upstream not fully available", zap.String("upstream", client.Addr))
	}
	defer func() {
		client.Close(false)
		client.Wait()
	}()

	gw := ajp.NewGateway(client)
	gw.Route = cfg.Upstream.Route
	gw.Secret = cfg.Upstream.Secret

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	if printURL {
		fmt.Fprintf(os.Stdout, "http://%s/\n", ln.Addr().String())
	}
	logger.Info("listening", zap.Stringer("addr", ln.Addr()), zap.String("upstream", client.Addr), zap.Bool("fasthttp", cfg.FastHTTP))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.FastHTTP {
		fs := &fasthttp.Server{Handler: gw.HandleFastHTTP, Name: "ajpgateway"}
		g.Go(func() error { return fs.Serve(ln) })
		g.Go(func() error {
			<-gctx.Done()
			return fs.Shutdown()
		})
	} else {
		// a request body cannot take longer than the forward that carries it
		hs := &http.Server{
			Handler:           gw,
			ReadHeaderTimeout: 30 * time.Second,
			ReadTimeout:       time.Duration(cfg.Upstream.ForwardTimeout),
		}
		serveHTTP(g, gctx, hs, ln)
	}
	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		ms := &http.Server{Addr: cfg.Metrics, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		mln, err := net.Listen("tcp", cfg.Metrics)
		if err != nil {
			_ = ln.Close()
			return err
		}
		serveHTTP(g, gctx, ms, mln)
	}
	err = g.Wait()
	logger.Info("shutting down", zap.Error(err))
	return err
}

func serveHTTP(g *errgroup.Group, ctx context.Context, hs *http.Server, ln net.Listener) {
	g.Go(func() error {
		if err := hs.Serve(ln); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
}
