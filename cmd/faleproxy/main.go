package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/rodrigopv/faleproxy/internal/config"
	"github.com/rodrigopv/faleproxy/internal/fetch"
	"github.com/rodrigopv/faleproxy/internal/mcpserver"
	"github.com/rodrigopv/faleproxy/internal/relay"
	"github.com/rodrigopv/faleproxy/internal/render"
	"github.com/rodrigopv/faleproxy/internal/server"
	"github.com/rodrigopv/faleproxy/internal/substitute"
)

// Build information, initialized to defaults and potentially overridden by ldflags.
var (
	version = "development" // Git tag or version number
	commit  = "n/a"         // Git commit hash
	date    = "n/a"         // Build date
)

func printBanner() {
	lineColor := color.New(color.FgYellow)
	nameColor := color.New(color.FgWhite, color.Bold)
	urlColor := color.New(color.FgCyan)
	metaColor := color.New(color.FgWhite)
	width := 64
	border := "+" + strings.Repeat("-", width) + "+"

	printCentered := func(text string, c *color.Color) {
		padding := width - len(text)
		lineColor.Fprint(os.Stderr, "|")
		fmt.Fprint(os.Stderr, strings.Repeat(" ", padding/2))
		c.Fprint(os.Stderr, text)
		fmt.Fprint(os.Stderr, strings.Repeat(" ", padding-padding/2))
		lineColor.Fprintln(os.Stderr, "|")
	}

	lineColor.Fprintln(os.Stderr, border)
	printCentered("faleproxy", nameColor)
	printCentered("github.com/rodrigopv/faleproxy", urlColor)
	lineColor.Fprintln(os.Stderr, border)

	buildInfo := fmt.Sprintf("Version: %s | Commit: %s | Date: %s", version, commit, date)
	fmt.Fprintf(os.Stderr, "%s\n\n", metaColor.Sprint(buildInfo))
}

// loadConfig reads the config sources and applies the global flags on top.
func loadConfig(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("timeout") {
		cfg.Upstream.Timeout.Duration = c.Duration("timeout")
	}
	if c.IsSet("browser-tls") {
		cfg.Upstream.BrowserTLS = c.Bool("browser-tls")
	}

	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newRelay wires the fetcher and substitution engine selected by cfg. The
// returned cleanup releases the fetcher and must be called once the relay is
// no longer used.
func newRelay(cfg *config.Config, logger *logrus.Logger) (*relay.Relay, func(), error) {
	engine, err := substitute.NewEngine(cfg.Rules)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var fetcher fetch.Fetcher
	if cfg.Upstream.BrowserTLS {
		logger.Debug("Using browser TLS fetcher")
		tlsFetcher := fetch.NewBrowserTLSFetcher(cfg.Upstream.Timeout.Duration, cfg.Upstream.MaxBodyBytes, logger)
		cleanup = func() {
			if err := tlsFetcher.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close browser TLS fetcher")
			}
		}
		fetcher = tlsFetcher
	} else {
		fetcher = fetch.NewHTTPFetcher(fetch.HTTPOptions{
			Timeout:      cfg.Upstream.Timeout.Duration,
			UserAgent:    cfg.Upstream.UserAgent,
			MaxBodyBytes: cfg.Upstream.MaxBodyBytes,
			Logger:       logger,
		})
	}
	return relay.New(fetcher, engine, logger), cleanup, nil
}

func serveAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}

	r, cleanup, err := newRelay(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error creating relay: %v", err), 1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Addr(), r, logger)
	if err := srv.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("Server error: %v", err), 1)
	}
	return nil
}

func fetchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowSubcommandHelpAndExit(c, 1)
	}
	targetURL := c.Args().Get(0)
	outputFile := c.String("output")
	outputFormat := c.String("format")

	if !render.ValidFormat(outputFormat) {
		return cli.Exit(fmt.Sprintf("Error: Invalid output format '%s'. Use one of: %s.", outputFormat, strings.Join(render.Formats, ", ")), 1)
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
	}
	r, cleanup, err := newRelay(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error creating relay: %v", err), 1)
	}
	defer cleanup()

	logger.WithField("url", targetURL).Info("Fetching target")
	result, err := r.Handle(c.Context, relay.NewFetchRequest(targetURL))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if outputFile != "" {
		if err := render.WriteFile(outputFile, result, outputFormat); err != nil {
			return cli.Exit(fmt.Sprintf("Error writing output file: %v", err), 1)
		}
		logger.WithField("file", outputFile).Info("Output written")
		return nil
	}
	if err := render.Write(color.Output, result, outputFormat); err != nil {
		return cli.Exit(fmt.Sprintf("Error printing result: %v", err), 1)
	}
	return nil
}

func mcpAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
	}
	if c.IsSet("mcp-port") {
		cfg.MCP.Port = c.Int("mcp-port")
	}

	r, cleanup, err := newRelay(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error creating relay: %v", err), 1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := mcpserver.NewMCPServer(cfg.MCPAddr(), version, r, logger)
	if err := s.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("MCP server error: %v", err), 1)
	}
	return nil
}

func upstreamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Upstream request timeout",
			Value: config.DefaultTimeout,
		},
		&cli.BoolFlag{
			Name:  "browser-tls",
			Usage: "Fetch upstream pages with browser-like TLS fingerprints",
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "faleproxy",
		Usage:   "Relay web pages with every Yale replaced by Fale.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (.yaml, .yml or .toml)",
				EnvVars: []string{"FALEPROXY_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` (default: .env if present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (`LEVEL`: debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (`text` or `json`)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the web server",
				Action: serveAction,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Usage: "Interface to listen on",
					},
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Port to listen on",
						Value:   config.DefaultPort,
					},
				}, upstreamFlags()...),
			},
			{
				Name:      "fetch",
				Usage:     "Fetch a single page and print the rewritten result",
				ArgsUsage: "<target_url>",
				Action:    fetchAction,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write output to `FILE`",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   render.FormatText,
						Usage:   "Output format (`text`, json, html or markdown)",
					},
				}, upstreamFlags()...),
			},
			{
				Name:   "mcp",
				Usage:  "Expose the relay as an MCP tool over SSE",
				Action: mcpAction,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "mcp-port",
						Usage: "Port for the MCP SSE server",
						Value: config.DefaultMCPPort,
					},
				}, upstreamFlags()...),
			},
		},
	}
}

func main() {
	printBanner()

	// Customize Help Printer
	cli.AppHelpTemplate = fmt.Sprintf(`%s
%s`, cli.AppHelpTemplate, `EXAMPLE:
   faleproxy serve --port 3001
   faleproxy fetch -f markdown https://www.yale.edu/
   faleproxy fetch -f json -o result.json https://news.yale.edu/
   faleproxy mcp --mcp-port 8080
`)

	ctx := context.Background()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logrus.Fatal(err)
	}
}
