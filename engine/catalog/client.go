// Package catalog talks to the Google Places and Geocoding APIs: nearby
// restaurant discovery during the sweep, and zone-name geocoding.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/gustomap/gustomap/engine/domain"
)

const (
	defaultPlacesURL  = "https://places.googleapis.com/v1/places:searchNearby"
	defaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

	// fieldMask limits the response to what the pipeline stores. Reviews
	// dominate the payload; everything else is identity and linkage.
	fieldMask = "places.id,places.displayName,places.location,places.reviews,places.googleMapsLinks"

	// maxResults is the Places API hard ceiling per nearby search.
	maxResults = 20
)

// Client issues paced requests against the Places and Geocoding APIs.
type Client struct {
	apiKey     string
	placesURL  string
	geocodeURL string
	language   string
	region     string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURLs overrides the API endpoints. Used by tests.
func WithBaseURLs(places, geocode string) Option {
	return func(c *Client) {
		c.placesURL = places
		c.geocodeURL = geocode
	}
}

// WithLocale sets the language and region codes sent with each search.
func WithLocale(language, region string) Option {
	return func(c *Client) {
		c.language = language
		c.region = region
	}
}

// WithRateLimit overrides the request pacing.
func WithRateLimit(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a Client. Pacing defaults to one request per 200ms with
// a small burst, which stays well inside the Places quota for sweep-sized
// runs.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		placesURL:  defaultPlacesURL,
		geocodeURL: defaultGeocodeURL,
		language:   "en",
		region:     "FR",
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nearbyRequest struct {
	LanguageCode         string              `json:"languageCode"`
	RegionCode           string              `json:"regionCode"`
	IncludedPrimaryTypes string              `json:"includedPrimaryTypes"`
	MaxResultCount       int                 `json:"maxResultCount"`
	LocationRestriction  locationRestriction `json:"locationRestriction"`
	RankPreference       string              `json:"rankPreference"`
}

type locationRestriction struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type nearbyResponse struct {
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		Location latLng `json:"location"`
		Reviews  []struct {
			Text struct {
				Text string `json:"text"`
			} `json:"text"`
		} `json:"reviews"`
		GoogleMapsLinks struct {
			PlaceURI   string `json:"placeUri"`
			ReviewsURI string `json:"reviewsUri"`
		} `json:"googleMapsLinks"`
	} `json:"places"`
}

// SearchNearby finds restaurants within radiusMeters of center, ranked by
// distance. A sample point with no restaurants nearby returns an empty
// slice, not an error.
func (c *Client) SearchNearby(ctx context.Context, center domain.Point, radiusMeters float64) ([]domain.RawRecord, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("catalog: places api key required: %w", domain.ErrInvalidConfiguration)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("catalog: rate wait: %w", err)
	}

	body, err := json.Marshal(nearbyRequest{
		LanguageCode:         c.language,
		RegionCode:           c.region,
		IncludedPrimaryTypes: "restaurant",
		MaxResultCount:       maxResults,
		LocationRestriction: locationRestriction{Circle: circle{
			Center: latLng{Latitude: center.Lat, Longitude: center.Lng},
			Radius: radiusMeters,
		}},
		RankPreference: "DISTANCE",
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.placesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: nearby search: %w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("catalog: nearby search rejected (status %d): %w", resp.StatusCode, domain.ErrExternalService)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog: nearby search status %d: %s: %w", resp.StatusCode, msg, domain.ErrExternalService)
	}

	var nr nearbyResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return nil, fmt.Errorf("catalog: decode response: %w: %v", domain.ErrExternalService, err)
	}

	records := make([]domain.RawRecord, 0, len(nr.Places))
	for _, p := range nr.Places {
		rec := domain.RawRecord{
			PlaceID:    p.ID,
			Name:       p.DisplayName.Text,
			Lat:        p.Location.Latitude,
			Lng:        p.Location.Longitude,
			MapURI:     p.GoogleMapsLinks.PlaceURI,
			ReviewsURI: p.GoogleMapsLinks.ReviewsURI,
		}
		for _, r := range p.Reviews {
			if r.Text.Text != "" {
				rec.Reviews = append(rec.Reviews, r.Text.Text)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves a zone name to its coordinates. The first result wins.
func (c *Client) Geocode(ctx context.Context, address string) (domain.Point, error) {
	if address == "" {
		return domain.Point{}, fmt.Errorf("catalog: empty address: %w", domain.ErrInvalidInput)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Point{}, fmt.Errorf("catalog: rate wait: %w", err)
	}

	params := url.Values{"address": {address}, "key": {c.apiKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.Point{}, fmt.Errorf("catalog: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Point{}, fmt.Errorf("catalog: geocode: %w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Point{}, fmt.Errorf("catalog: geocode status %d: %w", resp.StatusCode, domain.ErrExternalService)
	}

	var gr geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return domain.Point{}, fmt.Errorf("catalog: decode geocode: %w: %v", domain.ErrExternalService, err)
	}
	if gr.Status != "OK" || len(gr.Results) == 0 {
		return domain.Point{}, fmt.Errorf("catalog: geocode %q: no result (status %s): %w", address, gr.Status, domain.ErrExternalService)
	}
	loc := gr.Results[0].Geometry.Location
	return domain.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
