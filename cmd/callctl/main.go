// Command callctl inspects and repairs call state in the configured store.
package main

import (
	"context"
	"fmt"
	"os"

	"callkit-bridge/internal/callstate"
	"callkit-bridge/internal/config"
	"callkit-bridge/pkg/logger"
)

func main() {
	cmd := newRootCommand(openRegistry)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "callctl:", err)
		os.Exit(1)
	}
}

// openRegistry opens the durable store from env/CONFIG_FILE. The registry has
// no notifier or presenter: callctl writes are silent by construction.
func openRegistry(ctx context.Context) (*callstate.Registry, func() error, error) {
	cfg, err := config.LoadStore()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver == config.DriverMemory {
		return nil, nil, fmt.Errorf("STORE_DRIVER is memory; callctl needs redis, postgres or sqlite")
	}
	store, closeStore, err := callstate.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	reg, err := callstate.NewRegistry(store, callstate.WithLogger(logger.NewWithWriter(os.Stderr, cfg.App.Env)))
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return reg, closeStore, nil
}
