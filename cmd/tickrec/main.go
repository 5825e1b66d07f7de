package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alejandrodnm/polyticks/config"
	"github.com/alejandrodnm/polyticks/internal/adapters/notify"
	"github.com/alejandrodnm/polyticks/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyticks/internal/adapters/storage"
	"github.com/alejandrodnm/polyticks/internal/domain"
	"github.com/alejandrodnm/polyticks/internal/recorder"
)

const usage = `tickrec — Polymarket tick recorder

Usage:
  tickrec record   -markets <id,id,...> | -markets-file <path>
  tickrec backfill -markets <id,id,...> | -markets-file <path>
  tickrec query    -market <id> | -token <id> [-start ...] [-end ...] [-outcome ...]
  tickrec export   -market <id> -output <file.csv>
  tickrec list     [-closed | -open]
  tickrec summary  -market <id>

Common flags (every subcommand):
  -config <path>   config YAML (default config/config.yaml if present)
  -db <path>       SQLite path (overrides config)
  -verbose         set log level to debug
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "record":
		err = runRecord(args)
	case "backfill":
		err = runBackfill(args)
	case "query":
		err = runQuery(args)
	case "export":
		err = runExport(args)
	case "list":
		err = runList(args)
	case "summary":
		err = runSummary(args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		slog.Error(cmd+" failed", "err", err)
		os.Exit(1)
	}
}

// commonFlags agrupa los flags compartidos por todos los subcomandos.
type commonFlags struct {
	configPath string
	dbPath     string
	verbose    bool
	format     string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "path to config file")
	fs.StringVar(&c.dbPath, "db", "", "SQLite path (overrides config)")
	fs.BoolVar(&c.verbose, "verbose", false, "set log level to debug")
	fs.StringVar(&c.format, "format", "", "log format: text|json (overrides config)")
	return c
}

// loadConfig carga el YAML (si existe) y aplica los overrides de flags.
func (c *commonFlags) loadConfig() (*config.Config, error) {
	path := c.configPath
	if path == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			path = "config/config.yaml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if c.dbPath != "" {
		cfg.Storage.DSN = c.dbPath
	}
	if c.verbose {
		cfg.Log.Level = "debug"
	}
	if c.format != "" {
		cfg.Log.Format = c.format
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func runRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	common := registerCommon(fs)
	marketList := fs.String("markets", "", "comma-separated market ids")
	marketsFile := fs.String("markets-file", "", "file with one market id per line")
	fs.Parse(args)

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}

	marketIDs, err := resolveMarketArgs(*marketList, *marketsFile)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	// El teardown del recorder cierra el store

	client := polymarket.NewClient(cfg.API.GammaBase, cfg.API.DataBase)
	stream := polymarket.NewStreamClient(cfg.API.WSBase)

	rec := recorder.New(recorder.Config{
		PollInterval:   cfg.PollInterval(),
		StatusInterval: cfg.StatusInterval(),
		ReconnectBase:  cfg.ReconnectBase(),
		ReconnectMax:   cfg.ReconnectMax(),
	}, client, stream, client, store)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("tickrec starting", "markets", len(marketIDs), "db", cfg.Storage.DSN)
	return rec.Run(ctx, marketIDs)
}

func runBackfill(args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	common := registerCommon(fs)
	marketList := fs.String("markets", "", "comma-separated market ids")
	marketsFile := fs.String("markets-file", "", "file with one market id per line")
	fs.Parse(args)

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}

	marketIDs, err := resolveMarketArgs(*marketList, *marketsFile)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	client := polymarket.NewClient(cfg.API.GammaBase, cfg.API.DataBase)
	rec := recorder.New(recorder.Config{}, client, polymarket.NewStreamClient(cfg.API.WSBase), client, store)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := rec.Backfill(ctx, marketIDs)
	if err != nil {
		return err
	}

	notify.NewConsole().PrintBackfill(res.Markets, res.Fetched, res.Inserted)
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	common := registerCommon(fs)
	marketID := fs.String("market", "", "market id")
	tokenID := fs.String("token", "", "asset (token) id")
	start := fs.String("start", "", "start of range, inclusive (2006-01-02 or RFC3339)")
	end := fs.String("end", "", "end of range, exclusive (2006-01-02 or RFC3339)")
	outcome := fs.String("outcome", "", "filter by outcome label")
	fs.Parse(args)

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}

	if (*marketID == "") == (*tokenID == "") {
		return fmt.Errorf("query: exactly one of -market or -token is required")
	}

	opts, err := buildQueryOpts(*start, *end, *outcome)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	trades, err := queryTrades(ctx, store, *marketID, *tokenID, opts)
	if err != nil {
		return err
	}

	notify.NewConsole().PrintTrades(trades)
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	common := registerCommon(fs)
	marketID := fs.String("market", "", "market id")
	output := fs.String("output", "", "destination CSV path")
	fs.Parse(args)

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}

	if *marketID == "" || *output == "" {
		return fmt.Errorf("export: -market and -output are required")
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.ExportCSV(context.Background(), *marketID, *output)
	if err != nil {
		return err
	}

	slog.Info("export complete", "market", *marketID, "rows", rows, "output", *output)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := registerCommon(fs)
	onlyClosed := fs.Bool("closed", false, "only closed markets")
	onlyOpen := fs.Bool("open", false, "only open markets")
	fs.Parse(args)

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}

	if *onlyClosed && *onlyOpen {
		return fmt.Errorf("list: -closed and -open are mutually exclusive")
	}

	var closed *bool
	if *onlyClosed {
		v := true
		closed = &v
	} else if *onlyOpen {
		v := false
		closed = &v
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	markets, err := store.ListMarkets(context.Background(), closed)
	if err != nil {
		return err
	}

	notify.NewConsole().PrintMarkets(markets)
	return nil
}

func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	common := registerCommon(fs)
	marketID := fs.String("market", "", "market id")
	fs.Parse(args)

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}

	if *marketID == "" {
		return fmt.Errorf("summary: -market is required")
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	m, found, err := store.GetMarket(ctx, *marketID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("summary: market %s not in database", *marketID)
	}

	s, err := store.Summary(ctx, *marketID)
	if err != nil {
		return err
	}

	notify.NewConsole().PrintSummary(m, s)
	return nil
}

// queryTrades despacha a la consulta por mercado o por token.
func queryTrades(ctx context.Context, store *storage.SQLiteStore, marketID, tokenID string, opts storage.QueryOpts) ([]domain.Trade, error) {
	if marketID != "" {
		return store.TradesByMarket(ctx, marketID, opts)
	}
	return store.TradesByToken(ctx, tokenID, opts)
}

// resolveMarketArgs junta los market ids del flag y del archivo.
func resolveMarketArgs(list, file string) ([]string, error) {
	var ids []string

	for _, id := range strings.Split(list, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	if file != "" {
		fromFile, err := readMarketsFile(file)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("no market ids given: use -markets or -markets-file")
	}
	return ids, nil
}

// readMarketsFile lee un id por línea, ignorando vacías y comentarios.
func readMarketsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}

// buildQueryOpts parsea los flags de rango y outcome.
func buildQueryOpts(start, end, outcome string) (storage.QueryOpts, error) {
	var opts storage.QueryOpts
	var err error

	if start != "" {
		if opts.Start, err = parseTimeFlag(start); err != nil {
			return opts, fmt.Errorf("parse -start: %w", err)
		}
	}
	if end != "" {
		if opts.End, err = parseTimeFlag(end); err != nil {
			return opts, fmt.Errorf("parse -end: %w", err)
		}
	}
	opts.Outcome = outcome
	return opts, nil
}

// parseTimeFlag acepta fecha sola o timestamp RFC3339, siempre en UTC.
func parseTimeFlag(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
