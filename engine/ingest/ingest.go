// Package ingest runs the aggregation pipeline: raw sweep rows in, merged
// entities in the aggregated table, review vectors in Qdrant, and a fresh
// search index swapped in at the end.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/gustomap/gustomap/engine/dedupe"
	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/engine/search"
	"github.com/gustomap/gustomap/engine/semantic"
	"github.com/gustomap/gustomap/engine/table"
	"github.com/gustomap/gustomap/pkg/fn"
)

const (
	// RecordsSubject carries RecordBatch messages from the sweep worker.
	RecordsSubject = "gustomap.scout.records"
	// DoneSubject carries the sweep-finished signal.
	DoneSubject = "gustomap.scout.done"
	// DLQSubject is the dead letter queue for batches that keep failing.
	DLQSubject = "gustomap.ingest.dlq"
	// MaxRetries before a message lands in the DLQ.
	MaxRetries = 3
	// EmbedBatchSize is the max review texts per embedding request.
	EmbedBatchSize = 100
	// embedWorkers bounds how many entities embed concurrently.
	embedWorkers = 4
)

// vectorSink is the slice of the vector store the pipeline writes through.
type vectorSink interface {
	DeleteByEntity(ctx context.Context, entityID string) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Embedder    semantic.Embedder
	VectorStore vectorSink
	Search      *search.Service // optional; index is rebuilt after a run
	RawPath     string
	EntityPath  string
	Retry       fn.RetryOpts // zero value means fn.DefaultRetry
	Logger      *slog.Logger
}

func (d Deps) retryOpts() fn.RetryOpts {
	if d.Retry.MaxAttempts == 0 {
		return fn.DefaultRetry
	}
	return d.Retry
}

// --- Pipeline stages ---

// Aggregate collapses raw rows into entities and merges duplicates.
var Aggregate fn.Stage[[]domain.RawRecord, []domain.Entity] = func(_ context.Context, rows []domain.RawRecord) fn.Result[[]domain.Entity] {
	entities, _ := dedupe.Collapse(rows)
	return fn.Ok(dedupe.Deduplicate(entities))
}

// NewPersist writes the aggregated table and passes the entities on.
func NewPersist(path string) fn.Stage[[]domain.Entity, []domain.Entity] {
	return func(_ context.Context, entities []domain.Entity) fn.Result[[]domain.Entity] {
		if err := table.WriteEntities(path, entities); err != nil {
			return fn.Err[[]domain.Entity](err)
		}
		return fn.Ok(entities)
	}
}

// NewEmbed embeds every cleaned review. Entities run through a bounded
// worker pool; within one entity the batches go out sequentially so retry
// backoff stays per request. Transient embedder failures are retried before
// the batch is abandoned.
func NewEmbed(embedder semantic.Embedder, retry fn.RetryOpts) fn.Stage[[]domain.Entity, []embeddedEntity] {
	perEntity := fn.Stage[domain.Entity, embeddedEntity](func(ctx context.Context, e domain.Entity) fn.Result[embeddedEntity] {
		texts := fn.FilterMap(e.Reviews, func(r string) (string, bool) {
			t := semantic.CleanText(r)
			return t, t != ""
		})
		ee := embeddedEntity{Entity: e, Texts: texts}
		for _, batch := range fn.Chunk(texts, EmbedBatchSize) {
			res := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[][]float32] {
				return fn.FromPair(embedder.EmbedBatch(ctx, batch))
			})
			vecs, err := res.Unwrap()
			if err != nil {
				return fn.Err[embeddedEntity](fmt.Errorf("embed reviews of %s: %w", e.PlaceID, err))
			}
			ee.Vectors = append(ee.Vectors, vecs...)
		}
		return fn.Ok(ee)
	})
	return fn.BatchStage(embedWorkers, perEntity)
}

// NewStore invalidates each entity's previous points and upserts the fresh
// ones. Point IDs are deterministic, so a re-run of the same data is a
// no-op at the store level.
func NewStore(vs vectorSink) fn.Stage[[]embeddedEntity, []domain.Entity] {
	return func(ctx context.Context, batch []embeddedEntity) fn.Result[[]domain.Entity] {
		entities := make([]domain.Entity, 0, len(batch))
		var records []semantic.VectorRecord
		for _, ee := range batch {
			if err := vs.DeleteByEntity(ctx, ee.Entity.PlaceID); err != nil {
				return fn.Err[[]domain.Entity](fmt.Errorf("invalidate %s: %w", ee.Entity.PlaceID, err))
			}
			for i, vec := range ee.Vectors {
				pointID := uuid.NewSHA1(uuid.NameSpaceURL,
					[]byte(fmt.Sprintf("%s-%d", ee.Entity.PlaceID, i))).String()
				records = append(records, semantic.VectorRecord{
					ID:        pointID,
					Embedding: vec,
					Payload: map[string]any{
						"entity_id":    ee.Entity.PlaceID,
						"name":         ee.Entity.Name,
						"lat":          ee.Entity.Lat,
						"lng":          ee.Entity.Lng,
						"review":       ee.Texts[i],
						"review_index": i,
					},
				})
			}
			entities = append(entities, ee.Entity)
		}
		if err := vs.Upsert(ctx, records); err != nil {
			return fn.Err[[]domain.Entity](fmt.Errorf("vector upsert: %w", err))
		}
		return fn.Ok(entities)
	}
}

// NewPipeline composes aggregate → persist → embed → store.
func NewPipeline(deps Deps) fn.Stage[[]domain.RawRecord, []domain.Entity] {
	aggregated := fn.TracedStage("ingest.aggregate", Aggregate)
	persisted := fn.Then(aggregated, fn.TracedStage("ingest.persist", NewPersist(deps.EntityPath)))
	embedded := fn.Then(persisted, fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder, deps.retryOpts())))
	return fn.Then(embedded, fn.TracedStage("ingest.store", NewStore(deps.VectorStore)))
}

// Run executes the pipeline over raw rows and reports what happened.
// When a search service is wired, the in-memory index is rebuilt from the
// surviving entities before Run returns.
func Run(ctx context.Context, deps Deps, rows []domain.RawRecord) (domain.RunSummary, []domain.Entity, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	collapsed, dropped := dedupe.Collapse(rows)
	summary := domain.RunSummary{
		RecordsFetched: len(rows),
		RowsDropped:    dropped,
		EntitiesRaw:    len(collapsed),
	}

	start := time.Now()
	entities, err := NewPipeline(deps)(ctx, rows).Unwrap()
	if err != nil {
		return summary, nil, fmt.Errorf("ingest: %w", err)
	}
	summary.EntitiesMerged = len(entities)

	if deps.Search != nil {
		if err := deps.Search.BuildFromEntities(ctx, entities); err != nil {
			return summary, entities, fmt.Errorf("ingest: rebuild index: %w", err)
		}
	}
	log.Info("ingest: run complete",
		"rows", summary.RecordsFetched,
		"dropped", summary.RowsDropped,
		"entities", summary.EntitiesMerged,
		"duration", time.Since(start),
	)
	return summary, entities, nil
}

// RunFromTable loads the raw stage file and runs the pipeline over it.
func RunFromTable(ctx context.Context, deps Deps) (domain.RunSummary, []domain.Entity, error) {
	rows, err := table.LoadRaw(deps.RawPath)
	if err != nil {
		return domain.RunSummary{}, nil, fmt.Errorf("ingest: load raw: %w", err)
	}
	return Run(ctx, deps, rows)
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Batch   RecordBatch `json:"batch"`
	Error   string      `json:"error"`
	Retries int         `json:"retries"`
}

// StartConsumer subscribes to the sweep subjects. Record batches are
// appended to the raw stage file; the done signal triggers a full
// aggregation run. Batches that keep failing to persist go to the DLQ.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, *nats.Subscription, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	recSub, err := nc.Subscribe(RecordsSubject, func(msg *nats.Msg) {
		var batch RecordBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			log.Error("ingest: unmarshal batch failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		if err := appendBatch(deps.RawPath, batch); err != nil {
			retries++
			log.Error("ingest: persist batch failed",
				"error", err, "grid_index", batch.GridIndex, "retry", retries)

			if retries >= MaxRetries {
				dlq := dlqMessage{Batch: batch, Error: err.Error(), Retries: retries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
				return
			}
			retryMsg := nats.NewMsg(RecordsSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
			return
		}
		log.Info("ingest: batch persisted",
			"grid_index", batch.GridIndex, "records", len(batch.Records))
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: subscribe records: %w", err)
	}

	doneSub, err := nc.Subscribe(DoneSubject, func(msg *nats.Msg) {
		var done SweepDone
		if err := json.Unmarshal(msg.Data, &done); err != nil {
			log.Error("ingest: unmarshal done failed", "error", err)
			return
		}
		log.Info("ingest: sweep finished, aggregating",
			"calls", done.Calls, "points", done.PointsTotal)

		summary, _, err := RunFromTable(context.Background(), deps)
		if err != nil {
			log.Error("ingest: aggregation failed", "error", err)
			return
		}
		log.Info("ingest: aggregation complete",
			"entities", summary.EntitiesMerged, "dropped", summary.RowsDropped)
	})
	if err != nil {
		recSub.Unsubscribe()
		return nil, nil, fmt.Errorf("ingest: subscribe done: %w", err)
	}

	return recSub, doneSub, nil
}

func appendBatch(path string, batch RecordBatch) error {
	rw, err := table.NewRawWriter(path)
	if err != nil {
		return err
	}
	for _, rec := range batch.Records {
		if err := rw.Append(rec); err != nil {
			rw.Close()
			return err
		}
	}
	return rw.Close()
}
