// Package homeassistant supplies the entity catalog used by the designer's
// entity picker.
package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/pkg/models"
	"go.uber.org/zap"
)

// Source lists the entities a layout can bind to
type Source interface {
	Entities(ctx context.Context) ([]models.Entity, error)
}

// state is the subset of a /api/states item the catalog needs
type state struct {
	EntityID   string `json:"entity_id"`
	Attributes struct {
		FriendlyName string `json:"friendly_name"`
	} `json:"attributes"`
}

// Client reads entities from the Home Assistant REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a REST client for the given instance
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Entities fetches every entity state and reduces it to catalog entries
func (c *Client) Entities(ctx context.Context) ([]models.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build states request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch states: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("home assistant returned %s", resp.Status)
	}

	var states []state
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}

	entities := make([]models.Entity, 0, len(states))
	for _, s := range states {
		if s.EntityID == "" {
			continue
		}
		entities = append(entities, models.Entity{
			EntityID: s.EntityID,
			Name:     s.Attributes.FriendlyName,
		})
	}

	c.logger.Debug("Fetched Home Assistant entities", zap.Int("count", len(entities)))
	return models.NewEntityCatalog(entities).List(), nil
}

// FileSource serves a static catalog loaded from a YAML file
type FileSource struct {
	catalog *models.EntityCatalog
}

// NewFileSource loads the catalog file once
func NewFileSource(path string) (*FileSource, error) {
	catalog, err := models.LoadEntityCatalog(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{catalog: catalog}, nil
}

// Entities returns the loaded catalog
func (f *FileSource) Entities(context.Context) ([]models.Entity, error) {
	return f.catalog.List(), nil
}

type emptySource struct{}

func (emptySource) Entities(context.Context) ([]models.Entity, error) {
	return []models.Entity{}, nil
}

// NewSource picks the entity source from configuration: the REST API when a
// URL is set, then the catalog file, otherwise an empty catalog.
func NewSource(cfg config.HomeAssistantConfig, logger *zap.Logger) (Source, error) {
	switch {
	case cfg.URL != "":
		logger.Info("Using Home Assistant REST entity source", zap.String("url", cfg.URL))
		return NewClient(cfg.URL, cfg.Token, logger), nil
	case cfg.EntitiesFile != "":
		logger.Info("Using entity catalog file", zap.String("path", cfg.EntitiesFile))
		return NewFileSource(cfg.EntitiesFile)
	default:
		logger.Warn("No entity source configured, entity picker will be empty")
		return emptySource{}, nil
	}
}
