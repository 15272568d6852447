package ingest

import "github.com/gustomap/gustomap/engine/domain"

// RecordBatch is the unit published by the sweep worker: everything one
// grid point returned.
type RecordBatch struct {
	GridIndex int                `json:"grid_index"`
	Records   []domain.RawRecord `json:"records"`
}

// SweepDone signals that a sweep finished and aggregation can run.
type SweepDone struct {
	Calls       int `json:"calls"`
	PointsTotal int `json:"points_total"`
}

// embeddedEntity pairs an entity with the vectors of its cleaned reviews.
type embeddedEntity struct {
	Entity  domain.Entity
	Texts   []string
	Vectors [][]float32
}
