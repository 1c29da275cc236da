// Package store persists device layouts by device key.
package store

import (
	"context"
	"errors"

	"github.com/koios/esphome-designer/pkg/models"
)

// ErrConflict is returned when an update keeps losing to concurrent writers
var ErrConflict = errors.New("layout was modified concurrently")

// UpdateFunc derives the next layout from the current one. Returning an
// error aborts the update and leaves the stored layout untouched.
type UpdateFunc func(current *models.Device) (*models.Device, error)

// Store is a keyed layout repository. Get never fails for a missing key:
// it returns the default single-page layout instead.
type Store interface {
	Get(ctx context.Context, key string) (*models.Device, error)
	Save(ctx context.Context, key string, device *models.Device) error
	Update(ctx context.Context, key string, fn UpdateFunc) (*models.Device, error)
}
