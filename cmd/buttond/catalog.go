package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/buttond/internal/config"
	"github.com/srg/buttond/internal/registry"
	"github.com/srg/buttond/internal/store"
)

// catalog is an offline view of the persisted registry used by list, grab and
// forget. It must not be edited while the daemon is running on the same store.
type catalog struct {
	store   store.Store
	records []registry.Record
}

func openCatalog(ctx context.Context, cfg *config.Config) (*catalog, error) {
	st, err := store.Open(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	c := &catalog{store: st}

	data, err := st.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c, nil
	case err != nil:
		_ = st.Close()
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if c.records, err = registry.DecodeCatalog(data); err != nil {
		_ = st.Close()
		return nil, err
	}
	return c, nil
}

func (c *catalog) save(ctx context.Context) error {
	data, err := registry.EncodeCatalog(c.records)
	if err != nil {
		return err
	}
	return c.store.Save(ctx, data)
}

func (c *catalog) close() error {
	return c.store.Close()
}
