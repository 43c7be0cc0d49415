package driving

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// SettingsService manages sync settings.
type SettingsService interface {
	// Get returns the current settings with defaults applied.
	Get() (domain.SyncSettings, error)

	// Save validates and persists settings, then applies them.
	Save(settings domain.SyncSettings) error

	// Defaults returns the default settings.
	Defaults() domain.SyncSettings

	// Watch re-applies settings whenever the backing file changes, until ctx ends.
	Watch(ctx context.Context) error
}
