// Command csb-create builds crop sequence boundaries from a multi-year
// category stack.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/cropseq/internal/config"
	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/pipeline"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/report"
	"github.com/banshee-data/cropseq/internal/storage/sqlite"
	"github.com/banshee-data/cropseq/internal/tilecache"
	"github.com/banshee-data/cropseq/internal/tiling"
	"github.com/banshee-data/cropseq/internal/version"
)

var (
	configPath  = flag.String("config", "", "engine config JSON (default $CSB_CONFIG or "+config.DefaultConfigPath+")")
	inputPath   = flag.String("input", "", "JSON category stack")
	synthetic   = flag.String("synthetic", "", "generate a ROWSxCOLS demo stack instead of reading -input")
	years       = flag.Int("years", 4, "years in a synthetic stack")
	seed        = flag.Uint64("seed", 1, "seed for a synthetic stack")
	outPath     = flag.String("out", "csb.geojson", "GeoJSON output path")
	dbPath      = flag.String("db", "", "SQLite database to record the run in (default $CSB_DB)")
	redisAddr   = flag.String("redis", "", "Redis address for the tile cache (default $CSB_REDIS_ADDR)")
	reportDir   = flag.String("report-dir", "", "directory for the area histogram and manifest page")
	metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	track       = flag.String("track", "", "override the config track (baseline or experimental)")
	workers     = flag.Int("workers", 0, "tile workers (default from cpu_fraction)")
	verbose     = flag.Bool("v", false, "log per-tile and per-tier statistics")
	trace       = flag.Bool("trace", false, "log per-merge and per-arc detail")
	showVersion = flag.Bool("version", false, "print the build version and exit")
)

func main() {
	_ = godotenv.Load(".env")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	w := monitoring.LogWriters{Ops: os.Stderr}
	if *verbose || *trace {
		w.Diag = os.Stderr
	}
	if *trace {
		w.Trace = os.Stderr
	}
	monitoring.SetLogWriters(w)
	monitoring.Opsf("[main] %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("csb-create: %v", err)
	}
}

func envOr(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func loadConfig() (*config.EngineConfig, error) {
	path := envOr(*configPath, "CSB_CONFIG")
	var cfg *config.EngineConfig
	switch {
	case path != "":
		c, err := config.LoadEngineConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			c, err := config.LoadEngineConfig(config.DefaultConfigPath)
			if err != nil {
				return nil, err
			}
			cfg = c
		} else {
			cfg = config.DefaultEngineConfig()
		}
	}
	if *track != "" {
		cfg.Track = track
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid -track: %w", err)
		}
	}
	return cfg, nil
}

func loadInput() (*raster.Stack, error) {
	if *synthetic != "" {
		var rows, cols int
		if _, err := fmt.Sscanf(*synthetic, "%dx%d", &rows, &cols); err != nil || rows <= 0 || cols <= 0 {
			return nil, fmt.Errorf("invalid -synthetic %q, want ROWSxCOLS", *synthetic)
		}
		ys := make([]int, *years)
		for i := range ys {
			ys[i] = time.Now().Year() - *years + i
		}
		return pipeline.Synthetic(pipeline.SyntheticOptions{
			Rows: rows, Cols: cols, Years: ys, RoadEvery: 64, Speckle: 0.01, Seed: *seed,
		}), nil
	}
	if *inputPath == "" {
		return nil, errors.New("one of -input or -synthetic is required")
	}
	return loadStack(*inputPath)
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stack, err := loadInput()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, stack)
	if err != nil {
		return err
	}
	p.Workers = *workers
	p.Progress = func(m tiling.Manifest) {
		done := len(m.Tiles) - m.Pending
		monitoring.Opsf("[progress] %d/%d tiles, %d gaps, %d retried", done, len(m.Tiles), m.Gaps, m.Retried)
	}

	if addr := envOr(*redisAddr, "CSB_REDIS_ADDR"); addr != "" {
		db, _ := strconv.Atoi(os.Getenv("CSB_REDIS_DB"))
		rc := tilecache.OpenRedis(addr, os.Getenv("CSB_REDIS_PASSWORD"), db)
		defer rc.Close()
		p.Cache = &tilecache.Store{
			Cache:       rc,
			Fingerprint: tilecache.Fingerprint(cfg.Fingerprint()),
			Digest:      func(w raster.Window) uint64 { return tilecache.InputDigest(stack, w) },
		}
		monitoring.Opsf("[cache] using redis tile cache at %s", addr)
	}

	if *metricsAddr != "" {
		srv := serveMetrics(*metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	if err := writeGeoJSON(*outPath, res); err != nil {
		return fmt.Errorf("write %s: %w", *outPath, err)
	}
	monitoring.Opsf("[output] wrote %d parcels to %s", len(res.Parcels), *outPath)

	if path := envOr(*dbPath, "CSB_DB"); path != "" {
		if err := saveRun(ctx, path, cfg, res); err != nil {
			return fmt.Errorf("record run in %s: %w", path, err)
		}
		monitoring.Opsf("[output] recorded run %s in %s", res.RunID, path)
	}

	summary := report.Summarize(res.Parcels, res.Manifest)
	monitoring.Opsf("[report] %s", summary)
	if *reportDir != "" {
		if err := writeReports(*reportDir, res, summary); err != nil {
			return err
		}
	}
	for _, g := range res.Manifest.GapTiles() {
		monitoring.Opsf("[gap] tile %d %v: %s", g.Index, g.Core, g.Reason)
	}
	return nil
}

func saveRun(ctx context.Context, path string, cfg *config.EngineConfig, res *pipeline.Result) error {
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return sqlite.NewRunStore(db.DB).SaveResult(ctx, res, cfgJSON)
}

func writeReports(dir string, res *pipeline.Result, summary report.Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if len(res.Parcels) > 0 {
		if err := report.WriteAreaHistogram(filepath.Join(dir, "areas.png"), res.Parcels, 0); err != nil {
			return err
		}
	}
	f, err := os.Create(filepath.Join(dir, "manifest.html"))
	if err != nil {
		return err
	}
	if err := report.WriteManifestPage(f, res.Manifest); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "summary.json"), data, 0o644)
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Opsf("[metrics] server error: %v", err)
		}
	}()
	monitoring.Opsf("[metrics] serving on %s/metrics", addr)
	return srv
}
