// Alor Market Data Collector CLI
// This application collects market microstructure data from the Alor broker
// API: a windowed REST crawl over the all-trades history with a volume
// histogram report, and a live websocket dump of order book and trade
// streams into per-day files.
//
// Usage:
//
//	alor-collector stats --start 03.06.2024 --days 5
//	alor-collector dump
//
// For detailed help on any command, use: alor-collector <command> --help
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tde/go-alor-collector/internal/auth"
	"github.com/tde/go-alor-collector/internal/calendar"
	"github.com/tde/go-alor-collector/internal/config"
	"github.com/tde/go-alor-collector/internal/errs"
	"github.com/tde/go-alor-collector/internal/history"
	"github.com/tde/go-alor-collector/internal/histogram"
	"github.com/tde/go-alor-collector/internal/logger"
	"github.com/tde/go-alor-collector/internal/storage"
	"github.com/tde/go-alor-collector/internal/stream"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "alor-collector"
	ConfigFile = "collector.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitAuthError   = 3
	ExitDataError   = 4
)

// CLI holds the wired application components.
type CLI struct {
	config   *config.AppConfig
	logs     *logger.Manager
	logger   *slog.Logger
	tokens   *auth.Provider
	calendar *calendar.Calendar
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Graceful shutdown on Ctrl-C and SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		printUsage()
		return
	}

	cli := &CLI{}
	if err := cli.initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.logs.Close()

	var err error
	switch command {
	case "stats":
		err = cli.handleStats(ctx, args)
	case "dump":
		err = cli.handleDump(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		cli.logger.Error("command failed", "command", command, "error", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	switch {
	case errs.IsKind(err, errs.KindConfig):
		return ExitConfigError
	case errs.IsKind(err, errs.KindAuth):
		return ExitAuthError
	default:
		return ExitDataError
	}
}

// initialize loads configuration and wires the shared components.
func (cli *CLI) initialize() error {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = ConfigFile
	}

	cfg, err := config.NewManager(configPath, slog.Default()).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logs, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.Logger()

	cli.calendar = calendar.New(cfg.Calendar.OffsetHours)
	cli.tokens = auth.NewProvider(cfg.AuthURL, cfg.RefreshToken, logs.Component("auth"))

	return nil
}

// StatsFlags holds parsed flags for the stats command.
type StatsFlags struct {
	Start       string
	Days        int
	QtyInterval int
	Count       int
	Help        bool
}

// handleStats runs the historical crawl and prints the volume histogram.
func (cli *CLI) handleStats(ctx context.Context, args []string) error {
	flags, err := parseStatsFlags(args, cli.config)
	if err != nil {
		return errs.New(errs.KindConfig, "stats", err)
	}
	if flags.Help {
		printCommandHelp("stats")
		return nil
	}

	loc := time.FixedZone("exchange", cli.config.Calendar.OffsetHours*3600)
	start, err := time.ParseInLocation("02.01.2006", flags.Start, loc)
	if err != nil {
		return errs.Newf(errs.KindConfig, "stats", "invalid start date %q, use dd.mm.yyyy", flags.Start)
	}

	qtyInterval, intervalCount := cli.config.VolumeBinning(cli.config.Symbol)
	if flags.QtyInterval > 0 {
		qtyInterval = flags.QtyInterval
	}
	if flags.Count > 0 {
		intervalCount = flags.Count
	}

	cli.logger.Info("starting historical crawl",
		"symbol", cli.config.Symbol,
		"start", flags.Start,
		"work_days", flags.Days)

	fetcher := history.NewFetcher(
		cli.config.BaseURL,
		cli.config.Exchange,
		cli.config.Symbol,
		cli.config.History.PageLimit,
		cli.config.History.RateLimit,
		cli.tokens,
		cli.calendar,
		cli.logs.Component("history"),
	)

	trades, err := fetcher.Fetch(ctx, start, flags.Days)
	if err != nil {
		return err
	}

	buckets, err := histogram.Build(trades, qtyInterval, intervalCount)
	if err != nil {
		return err
	}

	summary := histogram.Summarize(trades)
	cli.logger.Info("historical crawl completed", "trades", summary.Trades)

	fmt.Printf("%s volume distribution, %d working days from %s\n\n",
		cli.config.Symbol, flags.Days, flags.Start)
	fmt.Println(histogram.Report(buckets, qtyInterval))
	fmt.Println(summary.String())

	return nil
}

// DumpFlags holds parsed flags for the dump command.
type DumpFlags struct {
	Help bool
}

// handleDump runs the live stream dump until interrupted.
func (cli *CLI) handleDump(ctx context.Context, args []string) error {
	flags, err := parseDumpFlags(args)
	if err != nil {
		return errs.New(errs.KindConfig, "dump", err)
	}
	if flags.Help {
		printCommandHelp("dump")
		return nil
	}

	sessions, err := cli.config.SessionRanges()
	if err != nil {
		return err
	}

	store, err := storage.NewFileStore(cli.config.Dump.DataDir, cli.config.Symbol,
		cli.logs.Component("storage"))
	if err != nil {
		return err
	}

	pipeline := stream.NewPipeline(stream.Config{
		WSURL:     cli.config.WSURL,
		Exchange:  cli.config.Exchange,
		Symbol:    cli.config.Symbol,
		Depth:     cli.config.Dump.Depth,
		Frequency: cli.config.Dump.Frequency,
		FlushSize: cli.config.Dump.FlushSize,
		Sessions:  sessions,
	}, cli.tokens, cli.calendar, store, cli.logs.Component("stream"))

	cli.logger.Info("starting live dump",
		"symbol", cli.config.Symbol,
		"data_dir", cli.config.Dump.DataDir,
		"flush_size", cli.config.Dump.FlushSize)

	if err := pipeline.Run(ctx); err != nil {
		return err
	}

	cli.logger.Info("live dump stopped")
	return nil
}

// parseStatsFlags parses command line arguments for the stats command.
func parseStatsFlags(args []string, cfg *config.AppConfig) (*StatsFlags, error) {
	flags := &StatsFlags{
		Start: cfg.History.StartDate,
		Days:  cfg.History.WorkDays,
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--start", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--days", "-d":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--days requires a value")
			}
			days, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid days value: %w", err)
			}
			flags.Days = days
			i++
		case "--qty-interval", "-q":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--qty-interval requires a value")
			}
			q, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid qty-interval value: %w", err)
			}
			flags.QtyInterval = q
			i++
		case "--count", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--count requires a value")
			}
			c, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid count value: %w", err)
			}
			flags.Count = c
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if flags.Start == "" {
		return nil, fmt.Errorf("--start is required (or set START_DATE)")
	}
	return flags, nil
}

// parseDumpFlags parses command line arguments for the dump command.
func parseDumpFlags(args []string) (*DumpFlags, error) {
	flags := &DumpFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func printUsage() {
	fmt.Printf(`%s - Alor Market Data Collector v%s

USAGE:
    %s <command> [options]

COMMANDS:
    stats       Crawl historical trades and print a volume histogram
    dump        Stream order book and trade data into per-day files

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Volume distribution for 5 working days starting 3 June 2024
    %s stats --start 03.06.2024 --days 5

    # Dump the live streams until interrupted
    %s dump

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format, override path with CONFIG_FILE)
    - Environment variables (e.g. SYMBOL, REFRESH_TOKEN, DATA_DIR)

    Example config file:
    {
        "base_url": "https://api.alor.ru",
        "auth_url": "https://oauth.alor.ru/refresh",
        "ws_url": "wss://api.alor.ru/ws",
        "exchange": "MOEX",
        "symbol": "SiU5",
        "refresh_token": "..."
    }

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, ConfigFile, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "stats":
		fmt.Printf(`Crawl historical all-trades data and print a volume histogram.

USAGE:
    %s stats [options]

OPTIONS:
    --start, -s <dd.mm.yyyy>   First working day to crawl (default: START_DATE)
    --days, -d <n>             Number of working days (default: WORK_DAYS)
    --qty-interval, -q <n>     Histogram bucket width in lots
    --count, -c <n>            Number of regular histogram buckets
    --help, -h                 Show this help
`, AppName)
	case "dump":
		fmt.Printf(`Stream order book and all-trades data into per-day files.

Runs until interrupted. Buffered records are flushed on shutdown.

USAGE:
    %s dump [options]

OPTIONS:
    --help, -h   Show this help
`, AppName)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		printUsage()
	}
}
