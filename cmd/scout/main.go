// Command scout sweeps a bounding box with overlapping nearby searches and
// ships everything it finds to the ingest worker over NATS, keeping a local
// raw CSV as the durable record of the run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gustomap/gustomap/engine/catalog"
	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/engine/geo"
	"github.com/gustomap/gustomap/engine/ingest"
	"github.com/gustomap/gustomap/engine/table"
	"github.com/gustomap/gustomap/pkg/metrics"
	"github.com/gustomap/gustomap/pkg/natsutil"
)

var met = metrics.New()

var (
	mCalls   = met.Counter("gustomap_scout_api_calls_total", "Nearby search calls issued")
	mRecords = met.Counter("gustomap_scout_records_total", "Place records fetched")
	mSkipped = met.Counter("gustomap_scout_points_skipped_total", "Grid points skipped by the call budget")
	mErrors  = met.Counter("gustomap_scout_errors_total", "Failed nearby searches")
	mBudget  = met.Gauge("gustomap_scout_budget_remaining", "Calls left in the budget")
)

func main() {
	var (
		latMin      = flag.Float64("lat-min", 48.530, "south edge of the sweep box")
		latMax      = flag.Float64("lat-max", 48.640, "north edge of the sweep box")
		lngMin      = flag.Float64("lng-min", 7.67, "west edge of the sweep box")
		lngMax      = flag.Float64("lng-max", 7.83, "east edge of the sweep box")
		step        = flag.Float64("step", 450, "grid spacing in meters")
		radius      = flag.Float64("radius", 600, "search radius in meters; must exceed step")
		maxCalls    = flag.Int("max-calls", 200, "API call budget for this run")
		rawPath     = flag.String("raw", "data/raw_reviews.csv", "raw stage CSV path")
		zone        = flag.String("zone", "", "optional zone name to sweep instead of the box")
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL; empty disables publishing")
		language    = flag.String("lang", "en", "Places language code")
		region      = flag.String("region", "FR", "Places region code")
		metricsPort = flag.Int("metrics-port", 9092, "Prometheus metrics port")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	met.ServeAsync(*metricsPort)

	apiKey := os.Getenv("GOOGLE_PLACES_API_KEY")
	client := catalog.NewClient(apiKey, catalog.WithLocale(*language, *region))

	box := domain.Bounds{MinLat: *latMin, MaxLat: *latMax, MinLng: *lngMin, MaxLng: *lngMax}
	if *zone != "" {
		center, err := client.Geocode(ctx, *zone)
		if err != nil {
			log.Error("geocode zone failed", "zone", *zone, "error", err)
			os.Exit(1)
		}
		// A zone sweep covers roughly 1km around its center.
		half := 500.0
		box = domain.Bounds{
			MinLat: center.Lat - geo.MetersToLat(half),
			MaxLat: center.Lat + geo.MetersToLat(half),
			MinLng: center.Lng - geo.MetersToLng(half, center.Lat),
			MaxLng: center.Lng + geo.MetersToLng(half, center.Lat),
		}
		log.Info("zone sweep", "zone", *zone, "center_lat", center.Lat, "center_lng", center.Lng)
	}

	if err := geo.ValidateSweep(*step, *radius); err != nil {
		log.Error("invalid sweep parameters", "error", err)
		os.Exit(1)
	}
	points, err := geo.Grid(box, *step)
	if err != nil {
		log.Error("grid generation failed", "error", err)
		os.Exit(1)
	}
	log.Info("sweep planned", "points", len(points), "budget", *maxCalls)

	var nc *nats.Conn
	if *natsURL != "" {
		nc, err = nats.Connect(*natsURL, nats.Name("gustomap-scout"))
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
	}

	summary, err := sweep(ctx, client, nc, points, *radius, *maxCalls, *rawPath, log)
	if err != nil {
		log.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	log.Info("sweep complete",
		"calls", summary.Calls,
		"points_total", summary.PointsTotal,
		"points_skipped", summary.PointsSkipped,
		"points_failed", summary.PointsFailed,
		"records", summary.RecordsFetched,
	)
}

func sweep(ctx context.Context, client *catalog.Client, nc *nats.Conn,
	points []domain.Point, radius float64, maxCalls int, rawPath string,
	log *slog.Logger) (domain.RunSummary, error) {

	summary := domain.RunSummary{PointsTotal: len(points)}

	rw, err := table.NewRawWriter(rawPath)
	if err != nil {
		return summary, err
	}
	defer rw.Close()

	mBudget.Set(int64(maxCalls))
	for i, pt := range points {
		if err := ctx.Err(); err != nil {
			summary.PointsSkipped = len(points) - i
			return summary, err
		}
		if summary.Calls >= maxCalls {
			summary.PointsSkipped = len(points) - i
			mSkipped.Add(int64(summary.PointsSkipped))
			log.Warn("call budget reached", "skipped", summary.PointsSkipped)
			break
		}

		records, err := client.SearchNearby(ctx, pt, radius)
		summary.Calls++
		mCalls.Inc()
		mBudget.Set(int64(maxCalls - summary.Calls))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				summary.PointsSkipped = len(points) - i - 1
				return summary, err
			}
			summary.PointsFailed++
			mErrors.Inc()
			log.Error("nearby search failed", "grid_index", i, "error", err)
			continue
		}

		for j := range records {
			records[j].GridIndex = i
			if err := rw.Append(records[j]); err != nil {
				return summary, fmt.Errorf("append raw: %w", err)
			}
		}
		summary.RecordsFetched += len(records)
		mRecords.Add(int64(len(records)))

		if nc != nil && len(records) > 0 {
			batch := ingest.RecordBatch{GridIndex: i, Records: records}
			if err := natsutil.Publish(ctx, nc, ingest.RecordsSubject, batch); err != nil {
				log.Error("publish batch failed", "grid_index", i, "error", err)
			}
		}
		log.Info("point swept",
			"grid_index", i, "lat", pt.Lat, "lng", pt.Lng, "records", len(records))
	}

	if err := rw.Flush(); err != nil {
		return summary, err
	}
	if nc != nil {
		done := ingest.SweepDone{Calls: summary.Calls, PointsTotal: summary.PointsTotal}
		if err := natsutil.Publish(ctx, nc, ingest.DoneSubject, done); err != nil {
			log.Error("publish done failed", "error", err)
		}
	}
	// Give NATS a moment to flush before Drain on shutdown paths.
	time.Sleep(100 * time.Millisecond)
	return summary, nil
}
