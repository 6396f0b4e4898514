// Package hub is the outbound REST client for the home-automation
// hub. Alarms, timers, and hub-bound tools all go through it.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lucia-ai/lucia/pkg/httpclient"
)

// Client calls hub services over HTTP+JSON with bearer auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *httpclient.Client
}

// Config configures the hub client.
type Config struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// OccupiedArea is one presence-service result.
type OccupiedArea struct {
	Area       string  `json:"area"`
	Confidence float64 `json:"confidence"`
}

// Entity is a hub entity reference.
type Entity struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Area     string `json:"area"`
}

// NewClient creates a hub client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(2),
		httpclient.WithBaseDelay(500 * time.Millisecond),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{InsecureSkipVerify: true}))
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpclient.New(opts...),
	}
}

// CallService invokes a hub service, e.g. ("media_player",
// "play_media", {...}).
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	return c.post(ctx, path, data, nil)
}

// PlayMedia plays a media URI on an entity as an announcement.
func (c *Client) PlayMedia(ctx context.Context, entityID, mediaURI string) error {
	return c.CallService(ctx, "media_player", "play_media", map[string]any{
		"entity_id":          entityID,
		"media_content_id":   mediaURI,
		"media_content_type": "music",
		"announce":           true,
	})
}

// SetVolume sets an entity's volume level (0.0..1.0).
func (c *Client) SetVolume(ctx context.Context, entityID string, level float64) error {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return c.CallService(ctx, "media_player", "volume_set", map[string]any{
		"entity_id":    entityID,
		"volume_level": level,
	})
}

// Announce speaks a message on an assist satellite.
func (c *Client) Announce(ctx context.Context, entityID, message string) error {
	return c.CallService(ctx, "assist_satellite", "announce", map[string]any{
		"entity_id": entityID,
		"message":   message,
	})
}

// OccupiedAreas queries the presence service. Results are sorted by
// the hub, highest confidence first.
func (c *Client) OccupiedAreas(ctx context.Context) ([]OccupiedArea, error) {
	var areas []OccupiedArea
	if err := c.get(ctx, "/api/presence/occupied_areas", &areas); err != nil {
		return nil, err
	}
	return areas, nil
}

// EntitiesInArea lists entities of one domain registered in an area.
func (c *Client) EntitiesInArea(ctx context.Context, area, domain string) ([]Entity, error) {
	path := fmt.Sprintf("/api/areas/%s/entities?domain=%s", url.PathEscape(area), url.QueryEscape(domain))
	var entities []Entity
	if err := c.get(ctx, path, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// DeleteMedia removes an uploaded media file from the hub's media
// source. Used when deleting alarm sounds that were uploaded through
// the platform.
func (c *Client) DeleteMedia(ctx context.Context, mediaURI string) error {
	return c.post(ctx, "/api/media/delete", map[string]any{"media_content_id": mediaURI}, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode hub response: %w", err)
		}
	}
	return nil
}
