package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ajp "github.com/jrialland/ajp-client"
	"github.com/jrialland/ajp-client/internal/logging"
)

type options struct {
	count    int
	interval time.Duration
	timeout  time.Duration
	get      string
	host     string
	verbose  bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "ajpping host:port",
		Short: "Probe an AJP13 container",
		Long:  "ajpping sends CPing messages to an AJP13 container and optionally forwards one GET request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts)
		},
		SilenceUsage: true,
	}
	cmd.Flags().IntVarP(&opts.count, "count", "n", 3, "number of pings")
	cmd.Flags().DurationVarP(&opts.interval, "interval", "i", time.Second, "time between pings")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", ajp.DefaultPingTimeout, "ping timeout")
	cmd.Flags().StringVar(&opts.get, "get", "", "forward a GET request for this URI after pinging")
	cmd.Flags().StringVar(&opts.host, "host", "localhost", "Host header for --get")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every frame")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, opts options) error {
	lc := logging.DefaultConfig()
	lc.Level = "warn"
	if opts.verbose {
		lc.Level = "debug"
	}
	logger, err := logging.New(lc)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	cc := ajp.DefaultClientConfig()
	cc.Pool = ajp.PoolConfig{Immortal: 1}
	cc.PingTimeout = opts.timeout
	cc.NetLog = opts.verbose
	cc.Logger = logger
	client := ajp.NewClient(addr, cc)
	if _, err = client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		client.Close(true)
		client.Wait()
	}()

	failed := 0
	for i := 0; i < opts.count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}
		start := time.Now()
		ok, err := client.CPing(ctx, opts.timeout)
		elapsed := time.Since(start)
		switch {
		case err != nil:
			failed++
			fmt.Printf("cping %s: %v\n", addr, err)
		case !ok:
			failed++
			fmt.Printf("cping %s: no reply within %v\n", addr, opts.timeout)
		default:
			fmt.Printf("cpong from %s: seq=%d time=%v\n", addr, i+1, elapsed.Round(time.Microsecond))
		}
	}

	if opts.get != "" {
		if err = get(ctx, client, opts); err != nil {
			return err
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d pings failed", failed, opts.count)
	}
	return nil
}

func get(ctx context.Context, client *ajp.Client, opts options) error {
	host, port, err := net.SplitHostPort(opts.host)
	if err != nil {
		host, port = opts.host, "80"
	}
	portNum, _ := strconv.Atoi(port)
	req := &ajp.Request{
		Method:     "GET",
		Protocol:   "HTTP/1.1",
		URI:        opts.get,
		RemoteAddr: "127.0.0.1",
		RemoteHost: "localhost",
		ServerName: host,
		ServerPort: portNum,
		Headers:    []ajp.Header{{Name: "Host", Value: opts.host}},
	}
	rr := ajp.NewResponseRecorder()
	start := time.Now()
	if err = client.Forward(ctx, req, rr); err != nil {
		return err
	}
	fmt.Printf("GET %s: %d %s, %s in %v\n", opts.get, rr.Status, rr.Reason,
		humanize.Bytes(uint64(rr.Body.Len())), time.Since(start).Round(time.Microsecond))
	return nil
}
