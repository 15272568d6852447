// Package zones keeps the registry of scraped zones in Neo4j: which areas
// have been swept, where they are, and which places belong to them.
package zones

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/pkg/fn"
	"github.com/gustomap/gustomap/pkg/repo"
)

// Zone is one scraped area.
type Zone struct {
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// ZoneStore provides zone operations on top of the generic Neo4j repository.
type ZoneStore struct {
	driver     neo4j.DriverWithContext
	zones      *repo.Neo4jRepo[Zone, string]
	newSession func(ctx context.Context) runner // for testing
}

// New creates a ZoneStore.
func New(driver neo4j.DriverWithContext) *ZoneStore {
	return &ZoneStore{
		driver: driver,
		zones:  newZoneRepo(driver),
	}
}

func newZoneRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Zone, string] {
	return repo.NewNeo4jRepo[Zone, string](driver, "Zone", zoneToMap, zoneFromRecord,
		repo.WithIDKey[Zone, string]("name"))
}

func zoneToMap(z Zone) map[string]any {
	return map[string]any{
		"name":       z.Name,
		"lat":        z.Lat,
		"lng":        z.Lng,
		"scraped_at": z.ScrapedAt.UTC().Format(time.RFC3339),
	}
}

func zoneFromRecord(rec *neo4j.Record) (Zone, error) {
	raw, ok := rec.Get("n")
	if !ok {
		return Zone{}, fmt.Errorf("zones: record has no node")
	}
	node, ok := raw.(dbtype.Node)
	if !ok {
		return Zone{}, fmt.Errorf("zones: unexpected record type %T", raw)
	}
	z := Zone{}
	if v, ok := node.Props["name"].(string); ok {
		z.Name = v
	}
	if v, ok := node.Props["lat"].(float64); ok {
		z.Lat = v
	}
	if v, ok := node.Props["lng"].(float64); ok {
		z.Lng = v
	}
	if v, ok := node.Props["scraped_at"].(string); ok {
		z.ScrapedAt, _ = time.Parse(time.RFC3339, v)
	}
	return z, nil
}

func (s *ZoneStore) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// EnsureZone creates or refreshes a zone node.
func (s *ZoneStore) EnsureZone(ctx context.Context, z Zone) error {
	if strings.TrimSpace(z.Name) == "" {
		return fmt.Errorf("zones: empty zone name: %w", domain.ErrInvalidInput)
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (z:Zone {name: $name}) SET z += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"name":  z.Name,
		"props": zoneToMap(z),
	})
	if err != nil {
		return fmt.Errorf("zones: ensure %s: %w", z.Name, err)
	}
	return nil
}

// ZoneExists reports whether a zone was already scraped. Matching is
// case-insensitive so "petite france" and "Petite France" are one zone.
func (s *ZoneStore) ZoneExists(ctx context.Context, name string) (bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (z:Zone) WHERE toLower(z.name) = toLower($name) RETURN z LIMIT 1`
	res, err := sess.Run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return false, fmt.Errorf("zones: exists %s: %w", name, err)
	}
	return res.Next(ctx), nil
}

// LinkPlaces attaches entities to a zone, creating place nodes as needed.
func (s *ZoneStore) LinkPlaces(ctx context.Context, zoneName string, entities []domain.Entity) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (z:Zone {name: $zone})
		UNWIND $places AS p
		MERGE (pl:Place {place_id: p.place_id})
		SET pl.name = p.name, pl.lat = p.lat, pl.lng = p.lng
		MERGE (pl)-[:IN_ZONE]->(z)`

	places := fn.Map(entities, func(e domain.Entity) map[string]any {
		return map[string]any{
			"place_id": e.PlaceID,
			"name":     e.Name,
			"lat":      e.Lat,
			"lng":      e.Lng,
		}
	})
	_, err := sess.Run(ctx, cypher, map[string]any{"zone": zoneName, "places": places})
	if err != nil {
		return fmt.Errorf("zones: link places to %s: %w", zoneName, err)
	}
	return nil
}

// PlacesInZone returns the places attached to a zone.
func (s *ZoneStore) PlacesInZone(ctx context.Context, zoneName string) ([]domain.Entity, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (pl:Place)-[:IN_ZONE]->(z:Zone)
		WHERE toLower(z.name) = toLower($zone)
		RETURN pl ORDER BY pl.name`
	res, err := sess.Run(ctx, cypher, map[string]any{"zone": zoneName})
	if err != nil {
		return nil, fmt.Errorf("zones: places in %s: %w", zoneName, err)
	}

	var entities []domain.Entity
	for res.Next(ctx) {
		raw, ok := res.Record().Get("pl")
		if !ok {
			continue
		}
		node, ok := raw.(dbtype.Node)
		if !ok {
			continue
		}
		e := domain.Entity{Zone: zoneName}
		if v, ok := node.Props["place_id"].(string); ok {
			e.PlaceID = v
		}
		if v, ok := node.Props["name"].(string); ok {
			e.Name = v
		}
		if v, ok := node.Props["lat"].(float64); ok {
			e.Lat = v
		}
		if v, ok := node.Props["lng"].(float64); ok {
			e.Lng = v
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Zones lists known zones.
func (s *ZoneStore) Zones(ctx context.Context, limit, offset int) ([]Zone, error) {
	return s.zones.List(ctx, repo.ListOpts{Limit: limit, Offset: offset})
}

// GetZone returns one zone by name.
func (s *ZoneStore) GetZone(ctx context.Context, name string) (Zone, error) {
	return s.zones.Get(ctx, name)
}
