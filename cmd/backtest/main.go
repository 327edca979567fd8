package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"backtester/internal/api"
	"backtester/internal/bars"
	"backtester/internal/config"
	"backtester/internal/domain"
	"backtester/internal/engine"
	"backtester/internal/report"
	"backtester/internal/store"
	"backtester/internal/strategy"
	"backtester/internal/strategy/builtins"
	"backtester/internal/util"
	"backtester/pkg/backtester"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backtest <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  bars         Run a bar backtest over an SCID file\n")
		fmt.Fprintf(os.Stderr, "  ticks        Run a batched tick backtest over an SCID file\n")
		fmt.Fprintf(os.Stderr, "  export-bars  Aggregate an SCID file and store the bars as Parquet\n")
		fmt.Fprintf(os.Stderr, "  runs         List recorded runs\n")
		fmt.Fprintf(os.Stderr, "  show         Print a recorded run\n")
		fmt.Fprintf(os.Stderr, "  strategies   List available strategies\n")
		fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\nRun 'backtest <command> -h' for command options.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "bars":
		err = runBacktest(api.ModeBars, args)
	case "ticks":
		err = runBacktest(api.ModeTicks, args)
	case "export-bars":
		err = exportBars(args)
	case "runs":
		err = listRuns(args)
	case "show":
		err = showRun(args)
	case "strategies":
		for _, name := range builtins.NewRegistry().List() {
			fmt.Println(name)
		}
	case "version":
		fmt.Printf("backtest %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

// setup loads and validates the configuration and installs the logger.
func setup() (*config.Config, *slog.Logger) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	return cfg, logger
}

func newEngine(cfg *config.Config, logger *slog.Logger) *engine.Engine {
	return engine.New(engine.Options{
		PointValue:   cfg.Engine.PointValue,
		PriceDivisor: cfg.Engine.PriceDivisor,
		FillPolicy:   bars.ParseFillPolicy(cfg.Engine.FillPolicy),
		Prefetch:     cfg.Engine.Prefetch,
		Logger:       logger,
	})
}

// openRecorder opens run history. The returned func closes the database.
func openRecorder(cfg *config.Config, logger *slog.Logger) (*store.Recorder, func(), error) {
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	rec := store.NewRecorder(db, store.NewParquetStore(cfg.Storage.DataDir), logger)
	return rec, func() { db.Close() }, nil
}

// ---------------------------------------------------------------------------
// bars / ticks
// ---------------------------------------------------------------------------

// paramFlag collects repeated -param key=value flags.
type paramFlag map[string]float64

func (p paramFlag) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(p[k], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("param %s: %w", k, err)
	}
	p[k] = f
	return nil
}

func runBacktest(mode string, args []string) error {
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	file := fs.String("file", "", "SCID tick file (relative to the server data dir with -server)")
	name := fs.String("strategy", "", "strategy name")
	timeframe := fs.String("timeframe", "", "bar timeframe, e.g. 1m, 5m, 1h (default from config)")
	batch := fs.Int("batch", 0, "records per tick batch (default from config)")
	commission := fs.Float64("commission", -1, "commission per round-trip trade (default from config)")
	record := fs.Bool("record", false, "save the run to history")
	trades := fs.Bool("trades", false, "print the trade ledger")
	format := fs.String("format", "text", "output format: text or yaml")
	server := fs.String("server", "", "run on a backtest-server at host:port")
	params := paramFlag{}
	fs.Var(params, "param", "strategy parameter key=value (repeatable)")
	fs.Parse(args)

	if *file == "" || *name == "" {
		fs.Usage()
		return fmt.Errorf("-file and -strategy are required")
	}

	cfg, logger := setup()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		run *store.Run
		res *domain.Result
		err error
	)
	if *server != "" {
		run, res, err = runRemote(ctx, *server, backtester.RunRequest{
			Mode:       mode,
			Path:       *file,
			Strategy:   *name,
			Params:     params,
			Timeframe:  *timeframe,
			BatchSize:  *batch,
			Commission: optional(*commission),
			Record:     *record,
		})
	} else {
		run, res, err = runLocal(ctx, cfg, logger, mode, *file, *name, params, *timeframe, *batch, *commission, *record)
	}
	if err != nil {
		return err
	}
	return printResult(os.Stdout, *format, run, res, *trades)
}

func optional(v float64) *float64 {
	if v < 0 {
		return nil
	}
	return &v
}

func runRemote(ctx context.Context, addr string, req backtester.RunRequest) (*store.Run, *domain.Result, error) {
	c, err := backtester.NewClient(addr)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()
	return c.RunBacktest(ctx, req)
}

func runLocal(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	mode, file, name string,
	params paramFlag,
	timeframe string,
	batch int,
	commission float64,
	record bool,
) (*store.Run, *domain.Result, error) {
	p := strategy.Params{}
	for k, v := range cfg.Strategies[name] {
		p[k] = v
	}
	for k, v := range params {
		p[k] = v
	}
	if commission < 0 {
		commission = cfg.Engine.Commission
	}

	eng := newEngine(cfg, logger)
	reg := builtins.NewRegistry()
	run := &store.Run{
		Mode:       mode,
		Strategy:   name,
		Path:       file,
		Commission: commission,
		PointValue: eng.Options().PointValue,
		StartedAt:  time.Now().UTC(),
	}

	var res *domain.Result
	switch mode {
	case api.ModeBars:
		run.Timeframe = timeframe
		if run.Timeframe == "" {
			run.Timeframe = cfg.Engine.Timeframe
		}
		strat, err := reg.Bar(name, p)
		if err != nil {
			return nil, nil, err
		}
		if res, err = eng.RunBacktest(ctx, file, run.Timeframe, strat, commission); err != nil {
			return nil, nil, err
		}
	default:
		run.BatchSize = batch
		if run.BatchSize == 0 {
			run.BatchSize = cfg.Engine.BatchSize
		}
		strat, err := reg.Tick(name, p)
		if err != nil {
			return nil, nil, err
		}
		if res, err = eng.RunTickBacktest(ctx, file, strat, run.BatchSize, commission); err != nil {
			return nil, nil, err
		}
	}
	run.Elapsed = time.Since(run.StartedAt)
	run.Result = res.ResultSet

	if record {
		rec, closeDB, err := openRecorder(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		defer closeDB()
		if _, err := rec.Record(ctx, run, res); err != nil {
			return nil, nil, err
		}
	}
	return run, res, nil
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// document is the YAML layout of one run.
type document struct {
	ID         string           `yaml:"id,omitempty"`
	Mode       string           `yaml:"mode"`
	Strategy   string           `yaml:"strategy"`
	Path       string           `yaml:"path"`
	Timeframe  string           `yaml:"timeframe,omitempty"`
	BatchSize  int              `yaml:"batch_size,omitempty"`
	Commission float64          `yaml:"commission"`
	StartedAt  time.Time        `yaml:"started_at"`
	Elapsed    string           `yaml:"elapsed"`
	Result     domain.ResultSet `yaml:"result"`
	Trades     []tradeDoc       `yaml:"trades,omitempty"`
}

type tradeDoc struct {
	Side       string    `yaml:"side"`
	EntryTime  time.Time `yaml:"entry_time"`
	EntryPrice float64   `yaml:"entry_price"`
	ExitTime   time.Time `yaml:"exit_time"`
	ExitPrice  float64   `yaml:"exit_price"`
	Commission float64   `yaml:"commission"`
	PnL        float64   `yaml:"pnl"`
	Exit       string    `yaml:"exit"`
}

func printResult(w io.Writer, format string, run *store.Run, res *domain.Result, withTrades bool) error {
	switch format {
	case "yaml":
		doc := document{
			ID:         run.ID,
			Mode:       run.Mode,
			Strategy:   run.Strategy,
			Path:       run.Path,
			Timeframe:  run.Timeframe,
			BatchSize:  run.BatchSize,
			Commission: run.Commission,
			StartedAt:  run.StartedAt,
			Elapsed:    run.Elapsed.Round(time.Millisecond).String(),
			Result:     res.ResultSet,
		}
		if withTrades {
			for _, t := range res.Trades {
				doc.Trades = append(doc.Trades, tradeDoc{
					Side:       t.Side.String(),
					EntryTime:  time.UnixMicro(t.EntryTimeUS).UTC(),
					EntryPrice: t.EntryPrice,
					ExitTime:   time.UnixMicro(t.ExitTimeUS).UTC(),
					ExitPrice:  t.ExitPrice,
					Commission: t.Commission,
					PnL:        t.PnL,
					Exit:       string(t.Exit),
				})
			}
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()

	case "text", "":
		if run.ID != "" {
			fmt.Fprintf(w, "Run %s\n", run.ID)
		}
		fmt.Fprintf(w, "%s %s on %s", run.Mode, run.Strategy, run.Path)
		if run.Timeframe != "" {
			fmt.Fprintf(w, " (%s bars)", run.Timeframe)
		}
		fmt.Fprintf(w, " in %s\n", run.Elapsed.Round(time.Millisecond))
		if err := report.Summary(w, res.ResultSet); err != nil {
			return err
		}
		if dd := report.WorstDrawdown(res.EquityCurve); dd.Depth > 0 {
			fmt.Fprintf(w, "  Worst drawdown %s from sample %d to %d\n",
				report.FormatMoney(dd.Depth), dd.Peak, dd.Trough)
		}
		if withTrades {
			fmt.Fprintln(w)
			return report.Trades(w, res.Trades)
		}
		return nil

	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// ---------------------------------------------------------------------------
// export-bars
// ---------------------------------------------------------------------------

func exportBars(args []string) error {
	fs := flag.NewFlagSet("export-bars", flag.ExitOnError)
	file := fs.String("file", "", "SCID tick file")
	instrument := fs.String("instrument", "", "instrument name for the bar store")
	timeframe := fs.String("timeframe", "", "bar timeframe (default from config)")
	fs.Parse(args)

	if *file == "" || *instrument == "" {
		fs.Usage()
		return fmt.Errorf("-file and -instrument are required")
	}
	cfg, logger := setup()
	tf := *timeframe
	if tf == "" {
		tf = cfg.Engine.Timeframe
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bs, err := newEngine(cfg, logger).BuildBars(ctx, *file, tf)
	if err != nil {
		return err
	}
	ps := store.NewParquetStore(cfg.Storage.DataDir)
	if err := ps.WriteBars(ctx, *instrument, tf, bs); err != nil {
		return err
	}
	logger.Info("bars exported", "instrument", *instrument, "timeframe", tf, "bars", len(bs))
	return nil
}

// ---------------------------------------------------------------------------
// runs / show
// ---------------------------------------------------------------------------

func listRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum runs to list; 0 lists all")
	fs.Parse(args)

	cfg, logger := setup()
	rec, closeDB, err := openRecorder(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := rec.List(context.Background(), *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tMODE\tSTRATEGY\tPATH\tTRADES\tPNL\tSHARPE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Mode,
			r.Strategy,
			r.Path,
			r.Result.NumTrades,
			report.FormatMoney(r.Result.TotalPnL),
			report.FormatRatio(r.Result.SharpeRatio, 2),
		)
	}
	return tw.Flush()
}

func showRun(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	trades := fs.Bool("trades", false, "print the trade ledger")
	format := fs.String("format", "text", "output format: text or yaml")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("want exactly one run ID")
	}

	cfg, logger := setup()
	rec, closeDB, err := openRecorder(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	run, res, err := rec.Load(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	return printResult(os.Stdout, *format, run, res, *trades)
}
