// Package registry builds the set of networks served by the process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chainstate"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/config"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/ledger"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/metrics"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/storage"
	"go.uber.org/zap"
)

// Network is everything the process keeps for one configured network.
type Network struct {
	Name   string
	Config config.Network
	Params *chaincfg.Params
	Store  *storage.Store
	Ledger *ledger.Ledger
	Cache  *chainstate.Cache
}

// Registry maps network names to networks. It is not modified after Build.
type Registry struct {
	networks []*Network
	byName   map[string]*Network
}

// OpenFunc opens the block database at path.
type OpenFunc func(path string) (storage.DB, error)

// OpenBadger opens a Badger database.
func OpenBadger(path string) (storage.DB, error) {
	return storage.NewBadger(path)
}

// Build loads every named network under root, opens its store and restores
// its chain state. A network without stored blocks starts with an empty cache.
func Build(ctx context.Context, root string, names []string, open OpenFunc, logger *zap.Logger) (*Registry, error) {
	names = slices.Clone(names)
	slices.Sort(names)
	names = slices.Compact(names)

	r := &Registry{byName: make(map[string]*Network, len(names))}
	for _, name := range names {
		n, err := build(ctx, root, name, open, logger.With(zap.String("network", name)))
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		r.networks = append(r.networks, n)
		r.byName[name] = n
	}
	return r, nil
}

func build(ctx context.Context, root, name string, open OpenFunc, logger *zap.Logger) (*Network, error) {
	cfg, err := config.Load(root, name)
	if err != nil {
		return nil, err
	}
	params, err := chain.ParamsForName(cfg.Chain)
	if err != nil {
		return nil, err
	}

	db, err := open(filepath.Join(root, name, config.BlocksDir))
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	store := storage.NewStore(db)
	l := ledger.New(params)

	cache, err := chainstate.New(store, l, metrics.NewChainStateCache(name), logger.Named("chainStateCache"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	switch err := cache.Initialize(ctx); {
	case errors.Is(err, chainstate.ErrNoHead):
		logger.Info("no blocks stored yet, chain state starts empty")
	case err != nil:
		_ = store.Close()
		return nil, fmt.Errorf("initialize chain state: %w", err)
	}

	return &Network{
		Name:   name,
		Config: cfg,
		Params: params,
		Store:  store,
		Ledger: l,
		Cache:  cache,
	}, nil
}

// Get returns the network called name.
func (r *Registry) Get(name string) (*Network, bool) {
	n, ok := r.byName[name]
	return n, ok
}

// Names returns the network names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.networks))
	for i, n := range r.networks {
		names[i] = n.Name
	}
	return names
}

// Networks returns the networks ordered by name.
func (r *Registry) Networks() []*Network {
	return slices.Clone(r.networks)
}

// Close closes every network's store.
func (r *Registry) Close() error {
	var errs []error
	for _, n := range r.networks {
		if err := n.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
