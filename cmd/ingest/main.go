// Command ingest turns raw sweep rows into merged entities, review vectors
// in Qdrant, and zone links in Neo4j. It either consumes batches from NATS
// until the sweep finishes, or aggregates an existing raw CSV in one shot.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/gustomap/gustomap/engine/catalog"
	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/engine/ingest"
	"github.com/gustomap/gustomap/engine/semantic"
	"github.com/gustomap/gustomap/engine/table"
	"github.com/gustomap/gustomap/engine/zones"
	"github.com/gustomap/gustomap/pkg/metrics"
	"github.com/gustomap/gustomap/pkg/ollama"
)

var met = metrics.New()

var (
	mRuns     = met.Counter("gustomap_ingest_runs_total", "Aggregation runs completed")
	mRows     = met.Counter("gustomap_ingest_rows_total", "Raw rows processed")
	mDropped  = met.Counter("gustomap_ingest_rows_dropped_total", "Raw rows dropped by validation")
	mEntities = met.Gauge("gustomap_ingest_entities", "Entities after the last run")
	mRunDur   = met.Histogram("gustomap_ingest_run_duration_seconds", "Aggregation run time", nil)
)

const vectorDims = 768 // nomic-embed-text

func main() {
	var (
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		oneShot     = flag.Bool("run", false, "aggregate the raw CSV once and exit")
		rawPath     = flag.String("raw", "data/raw_reviews.csv", "raw stage CSV path")
		entityPath  = flag.String("entities", "data/restaurants.csv", "aggregated CSV path")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		ollamaModel = flag.String("model", ollama.DefaultModel, "Ollama embedding model")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "gustomap", "Qdrant collection name")
		neo4jURL    = flag.String("neo4j", "", "Neo4j bolt URL; empty disables zone links")
		neo4jUser   = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", "password", "Neo4j password")
		zone        = flag.String("zone", "", "zone name to tag this run's entities with")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus metrics port")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	met.ServeAsync(*metricsPort)

	vs, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, vectorDims); err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", vectorDims)

	embedder := ollama.NewEmbedClient(*ollamaURL, *ollamaModel)
	log.Info("using Ollama embeddings", "model", *ollamaModel)

	var zoneStore *zones.ZoneStore
	if *neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
		if err != nil {
			log.Error("neo4j connect failed", "error", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			log.Error("neo4j verify failed", "error", err)
			os.Exit(1)
		}
		zoneStore = zones.New(driver)
		log.Info("connected to Neo4j")
	}

	deps := ingest.Deps{
		Embedder:    embedder,
		VectorStore: vs,
		RawPath:     *rawPath,
		EntityPath:  *entityPath,
		Logger:      log,
	}

	if *oneShot {
		if err := runOnce(ctx, deps, zoneStore, *zone, log); err != nil {
			log.Error("aggregation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	nc, err := nats.Connect(*natsURL, nats.Name("gustomap-ingest"))
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	recSub, doneSub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		log.Error("consumer start failed", "error", err)
		os.Exit(1)
	}
	defer recSub.Unsubscribe()
	defer doneSub.Unsubscribe()

	log.Info("ingest worker running",
		"records_subject", ingest.RecordsSubject, "done_subject", ingest.DoneSubject)
	<-ctx.Done()
	log.Info("shutting down")
}

func runOnce(ctx context.Context, deps ingest.Deps, zoneStore *zones.ZoneStore, zone string, log *slog.Logger) error {
	if zone != "" && zoneStore != nil {
		exists, err := zoneStore.ZoneExists(ctx, zone)
		if err != nil {
			return err
		}
		if exists {
			log.Info("zone already ingested, skipping", "zone", zone)
			return nil
		}
	}

	start := time.Now()
	summary, entities, err := ingest.RunFromTable(ctx, deps)
	if err != nil {
		return err
	}
	mRuns.Inc()
	mRows.Add(int64(summary.RecordsFetched))
	mDropped.Add(int64(summary.RowsDropped))
	mEntities.Set(int64(summary.EntitiesMerged))
	mRunDur.Observe(time.Since(start).Seconds())

	if zone != "" {
		if err := tagZone(ctx, deps, zoneStore, zone, entities, log); err != nil {
			return err
		}
	}
	return nil
}

// tagZone stamps the zone onto this run's entities and records the zone and
// its membership in Neo4j when a store is configured.
func tagZone(ctx context.Context, deps ingest.Deps, zoneStore *zones.ZoneStore, zone string, entities []domain.Entity, log *slog.Logger) error {
	for i := range entities {
		entities[i].Zone = zone
	}
	if err := table.WriteEntities(deps.EntityPath, entities); err != nil {
		return err
	}
	if zoneStore == nil {
		log.Warn("no Neo4j configured, zone recorded in CSV only", "zone", zone)
		return nil
	}

	z := zones.Zone{Name: zone, ScrapedAt: time.Now()}
	if key := os.Getenv("GOOGLE_PLACES_API_KEY"); key != "" {
		if pt, err := catalog.NewClient(key).Geocode(ctx, zone); err == nil {
			z.Lat, z.Lng = pt.Lat, pt.Lng
		} else {
			log.Warn("geocode zone failed", "zone", zone, "error", err)
		}
	}
	if err := zoneStore.EnsureZone(ctx, z); err != nil {
		return err
	}
	if err := zoneStore.LinkPlaces(ctx, zone, entities); err != nil {
		return err
	}
	log.Info("zone linked", "zone", zone, "places", len(entities))
	return nil
}
