// Package table reads and writes the flat CSV stage files of the pipeline:
// a raw one-row-per-review file appended during the sweep, and an aggregated
// one-row-per-entity file written after dedupe.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gustomap/gustomap/engine/domain"
)

var rawHeader = []string{
	"place_id", "place_name", "latitude", "longitude",
	"review_text", "google_maps_uri", "reviews_uri",
}

var entityHeader = []string{
	"place_id", "place_name", "latitude", "longitude",
	"google_maps_uri", "reviews_uri", "review_text", "review_count", "zone",
}

// FlushThreshold is how many buffered raw rows trigger a write, bounding
// memory on large sweeps.
const FlushThreshold = 500

// RawWriter appends one-row-per-review records to the raw stage file.
type RawWriter struct {
	f   *os.File
	w   *csv.Writer
	buf int
}

// NewRawWriter opens (or creates) the raw stage file for appending. The
// header is written only when the file is new.
func NewRawWriter(path string) (*RawWriter, error) {
	info, err := os.Stat(path)
	fresh := err != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("table: open raw %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(rawHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("table: raw header: %w", err)
		}
	}
	return &RawWriter{f: f, w: w}, nil
}

// Append buffers one row per review of the record (a review-less place still
// gets a single empty-review row so it is not lost), flushing to disk once
// FlushThreshold rows accumulate.
func (rw *RawWriter) Append(rec domain.RawRecord) error {
	reviews := rec.Reviews
	if len(reviews) == 0 {
		reviews = []string{""}
	}
	for _, review := range reviews {
		row := []string{
			rec.PlaceID, rec.Name,
			formatCoord(rec.Lat), formatCoord(rec.Lng),
			review, rec.MapURI, rec.ReviewsURI,
		}
		if err := rw.w.Write(row); err != nil {
			return fmt.Errorf("table: raw append: %w", err)
		}
		rw.buf++
	}
	if rw.buf >= FlushThreshold {
		return rw.Flush()
	}
	return nil
}

// Flush forces buffered rows to disk.
func (rw *RawWriter) Flush() error {
	rw.w.Flush()
	rw.buf = 0
	if err := rw.w.Error(); err != nil {
		return fmt.Errorf("table: raw flush: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (rw *RawWriter) Close() error {
	if err := rw.Flush(); err != nil {
		rw.f.Close()
		return err
	}
	return rw.f.Close()
}

// LoadRaw reads the raw stage file back as one RawRecord per row. GridIndex
// is assigned from row order, which is grid order by construction.
func LoadRaw(path string) ([]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open raw %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(rawHeader)
	if _, err := r.Read(); err != nil { // header
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("table: raw header: %w", err)
	}

	var records []domain.RawRecord
	for i := 0; ; i++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: raw row %d: %w", i, err)
		}
		rec := domain.RawRecord{
			PlaceID:    row[0],
			Name:       row[1],
			Lat:        parseCoord(row[2]),
			Lng:        parseCoord(row[3]),
			MapURI:     row[5],
			ReviewsURI: row[6],
			GridIndex:  i,
		}
		if row[4] != "" {
			rec.Reviews = []string{row[4]}
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteEntities writes the aggregated stage file whole. The aggregated
// table is regenerated per run, not appended.
func WriteEntities(path string, entities []domain.Entity) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("table: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(entityHeader); err != nil {
		return fmt.Errorf("table: entity header: %w", err)
	}
	for _, e := range entities {
		row := []string{
			e.PlaceID, e.Name,
			formatCoord(e.Lat), formatCoord(e.Lng),
			e.MapURI, e.ReviewsURI,
			e.ReviewText(), strconv.Itoa(e.ReviewCount), e.Zone,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("table: entity row %s: %w", e.PlaceID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("table: entity flush: %w", err)
	}
	return nil
}

// LoadEntities reads the aggregated stage file.
func LoadEntities(path string) ([]domain.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(entityHeader)
	if _, err := r.Read(); err != nil { // header
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("table: entity header: %w", err)
	}

	var entities []domain.Entity
	for i := 0; ; i++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: entity row %d: %w", i, err)
		}
		count, _ := strconv.Atoi(row[7])
		entities = append(entities, domain.Entity{
			PlaceID:     row[0],
			Name:        row[1],
			Lat:         parseCoord(row[2]),
			Lng:         parseCoord(row[3]),
			MapURI:      row[4],
			ReviewsURI:  row[5],
			Reviews:     domain.SplitReviewText(row[6]),
			ReviewCount: count,
			Zone:        row[8],
		})
	}
	return entities, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseCoord(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
