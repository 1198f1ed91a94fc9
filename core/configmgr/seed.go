package configmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/cordum/edgeconf/core/infra/config"
	"github.com/cordum/edgeconf/core/infra/logging"
)

// ApplySeed creates or merges every seed category, then attaches the
// declared children. A failing category does not stop the others; the
// failures are returned joined.
func (m *Manager) ApplySeed(ctx context.Context, seed *config.Seed) error {
	if seed == nil {
		return nil
	}
	var errs []error
	created := make(map[string]bool, len(seed.Categories))
	for _, cat := range seed.Categories {
		opts := []CreateOption{WithDisplayName(cat.DisplayName)}
		if cat.KeepOriginalItems {
			opts = append(opts, WithKeepOriginalItems())
		}
		if err := m.CreateCategory(ctx, cat.Name, cat.Value(), cat.Description, opts...); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", cat.Name, err))
			continue
		}
		created[cat.Name] = true
	}
	for _, cat := range seed.Categories {
		if len(cat.Children) == 0 || !created[cat.Name] {
			continue
		}
		if _, err := m.CreateChildCategory(ctx, cat.Name, cat.Children); err != nil {
			errs = append(errs, fmt.Errorf("seed %s children: %w", cat.Name, err))
		}
	}
	logging.Info(component, "seed applied", "categories", len(created), "failed", len(errs))
	return errors.Join(errs...)
}
