// Package designer coordinates layout persistence, snippet conversion and
// change notifications.
package designer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/internal/notify"
	"github.com/koios/esphome-designer/internal/store"
	"github.com/koios/esphome-designer/pkg/models"
	"github.com/koios/esphome-designer/pkg/snippet"
	"go.uber.org/zap"
)

// ErrPersist wraps store failures so callers can tell them from input errors
var ErrPersist = errors.New("failed to persist layout")

// Service is the single entry point used by the HTTP API and the CLI
type Service struct {
	store      store.Store
	notifier   notify.Notifier
	generator  *snippet.Generator
	defaultKey string
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a designer service. notifier may be nil.
func NewService(st store.Store, notifier notify.Notifier, generator *snippet.Generator, defaultKey string, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.NewMulti()
	}
	return &Service{
		store:      st,
		notifier:   notifier,
		generator:  generator,
		defaultKey: defaultKey,
		logger:     logger,
		now:        time.Now,
	}
}

// NewGenerator builds a snippet generator from configuration. Blank values
// keep the generator defaults.
func NewGenerator(cfg config.SnippetConfig) *snippet.Generator {
	return snippet.NewGenerator(snippet.Options{
		DisplayPlatform: cfg.DisplayPlatform,
		DisplayModel:    cfg.DisplayModel,
		UpdateInterval:  cfg.UpdateInterval,
		FontFile:        cfg.FontFile,
		FontSize:        cfg.FontSize,
	})
}

// Key resolves an optional device key to the one used for storage
func (s *Service) Key(key string) string {
	if key == "" {
		return s.defaultKey
	}
	return key
}

// GetLayout returns the stored layout of a device
func (s *Service) GetLayout(ctx context.Context, key string) (*models.Device, error) {
	key = s.Key(key)
	device, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Error("Failed to load layout", zap.String("device", key), zap.Error(err))
		return nil, fmt.Errorf("failed to load layout: %w", err)
	}
	return device, nil
}

// SaveLayout validates and stores a layout submitted by the editor.
// Invalid layouts return models.ValidationErrors.
func (s *Service) SaveLayout(ctx context.Context, key string, submitted *models.Device) (*models.Device, error) {
	key = s.Key(key)
	device, err := models.NewDevice(submitted.Name, submitted.Pages)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, key, device); err != nil {
		s.logger.Error("Failed to save layout", zap.String("device", key), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.logger.Info("Layout saved",
		zap.String("device", key),
		zap.Int("pages", len(device.Pages)),
		zap.Int("widgets", device.WidgetCount()))
	s.publish(ctx, models.EventLayoutSaved, key, device)
	return device, nil
}

// ExportSnippet renders the stored layout of a device as a snippet
func (s *Service) ExportSnippet(ctx context.Context, key string) (string, error) {
	device, err := s.GetLayout(ctx, key)
	if err != nil {
		return "", err
	}
	text, err := s.generator.Generate(device)
	if err != nil {
		s.logger.Error("Failed to generate snippet", zap.String("device", s.Key(key)), zap.Error(err))
		return "", fmt.Errorf("failed to generate snippet: %w", err)
	}
	return text, nil
}

// ImportSnippet parses a snippet and replaces the stored layout with it.
// Parse failures are returned as *snippet.ParseError and leave the store
// untouched. A snippet without a device marker keeps the current name.
func (s *Service) ImportSnippet(ctx context.Context, key, text string) (*models.Device, error) {
	key = s.Key(key)
	parsed, err := snippet.Parse(text)
	if err != nil {
		kind, _ := snippet.KindOf(err)
		s.logger.Info("Snippet import rejected",
			zap.String("device", key),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, err
	}

	device, err := s.store.Update(ctx, key, func(current *models.Device) (*models.Device, error) {
		if parsed.Name != "" {
			return parsed, nil
		}
		return models.NewDevice(current.Name, parsed.Pages)
	})
	if err != nil {
		s.logger.Error("Failed to store imported layout", zap.String("device", key), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.logger.Info("Snippet imported",
		zap.String("device", key),
		zap.Int("pages", len(device.Pages)),
		zap.Int("widgets", device.WidgetCount()))
	s.publish(ctx, models.EventSnippetImported, key, device)
	return device, nil
}

// publish announces a stored layout. Delivery failures are logged only.
func (s *Service) publish(ctx context.Context, eventType, key string, device *models.Device) {
	event := models.NewLayoutEvent(eventType, key, device, s.now().UTC())
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("Failed to publish layout event",
			zap.String("device", key),
			zap.String("type", eventType),
			zap.Error(err))
	}
}
