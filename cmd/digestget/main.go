// Command digestget fetches URLs from servers protected by HTTP Digest
// authentication, optionally through a forward proxy or a SOCKS5 tunnel.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/vitalvas/peerhttp/client"
	"github.com/vitalvas/peerhttp/config"
	"github.com/vitalvas/peerhttp/sockhttp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("digestget", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	var (
		configPath     = fs.String("config", "", "Path to a YAML configuration file")
		user           = fs.String("user", "", "User name for Digest authentication")
		passwordEnv    = fs.String("password-env", "", "Environment variable holding the password")
		proxyAddr      = fs.String("proxy", "", "Forward HTTP proxy: host:port | http://host:port")
		noProxy        = fs.StringSlice("no-proxy", nil, "Targets bypassing the proxy, in NO_PROXY syntax")
		socks5         = fs.String("socks5", "", "Tunnel connections through SOCKS5: host:port | socks5://[user:pass@]host:port")
		timeout        = fs.Duration("timeout", sockhttp.DefaultTimeout, "Idle timeout for socket reads and writes")
		connectTimeout = fs.Duration("connect-timeout", sockhttp.DefaultConnectTimeout, "Timeout for establishing connections")
		method         = fs.String("method", http.MethodGet, "Request method")
		data           = fs.String("data", "", "Request body")
		parallel       = fs.Int("parallel", 4, "Maximum number of concurrent fetches")
		verbose        = fs.Bool("verbose", false, "Log requests and responses to stderr")
	)

	if err := fs.Parse(args); err != nil {
		return err
	}

	targets := fs.Args()
	if len(targets) == 0 {
		return errors.New("no URLs given")
	}

	if *parallel < 1 {
		return fmt.Errorf("invalid --parallel %d: must be at least 1", *parallel)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	if fs.Changed("user") {
		cfg.Username = *user
	}
	if fs.Changed("password-env") {
		cfg.PasswordEnv = *passwordEnv
	}
	if fs.Changed("proxy") {
		p, err := sockhttp.ParseProxy(*proxyAddr)
		if err != nil {
			return fmt.Errorf("invalid --proxy: %w", err)
		}
		cfg.Proxy.Host = p.Host
		cfg.Proxy.Port = p.Port
	}
	if fs.Changed("no-proxy") {
		cfg.Proxy.Exclude = *noProxy
	}
	if fs.Changed("socks5") {
		cfg.SOCKS5 = *socks5
	}
	if fs.Changed("timeout") {
		cfg.Timeout = *timeout
	}
	if fs.Changed("connect-timeout") {
		cfg.ConnectTimeout = *connectTimeout
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	f := &fetcher{
		cfg:    cfg,
		method: strings.ToUpper(*method),
		data:   *data,
		logger: logger,
	}

	outputs := make([]bytes.Buffer, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(*parallel)

	for i, target := range targets {
		g.Go(func() error {
			errs[i] = f.fetch(ctx, target, &outputs[i])
			return nil
		})
	}

	_ = g.Wait()

	for i := range outputs {
		if _, err := outputs[i].WriteTo(stdout); err != nil {
			return err
		}

		if errs[i] != nil {
			logger.Error("fetch failed", "url", targets[i], "error", errs[i])
		}
	}

	return errors.Join(errs...)
}

type fetcher struct {
	cfg    *config.Config
	method string
	data   string
	logger *slog.Logger
}

// fetch performs one request with its own client and writes the status
// line, headers and body to w.
func (f *fetcher) fetch(ctx context.Context, target string, w io.Writer) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}

	logger := f.logger.With("url", target)

	ccfg, err := f.cfg.ClientConfig(u, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}

	c, err := client.New(u, ccfg)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	defer c.Close()

	var body io.Reader
	if f.data != "" {
		body = strings.NewReader(f.data)
	}

	req, err := http.NewRequestWithContext(ctx, f.method, target, body)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	defer resp.Body.Close()

	fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
	if err := resp.Header.Write(w); err != nil {
		return err
	}
	fmt.Fprintln(w)

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("%s: read body: %w", target, err)
	}
	fmt.Fprintln(w)

	logger.Info("fetched", "status", resp.StatusCode)

	return nil
}
