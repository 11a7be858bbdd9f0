//go:build !zmq

package main

import (
	"context"

	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/registry"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/service"
	"go.uber.org/zap"
)

// blockSignal returns no signal: this binary was built without the zmq tag,
// so networks are only polled.
func blockSignal(logger *zap.Logger) service.SignalFunc {
	return func(_ context.Context, n *registry.Network) (<-chan struct{}, error) {
		if n.Config.ZMQ != "" {
			logger.Warn("zmq endpoint configured but binary built without zmq support, polling only",
				zap.String("network", n.Name))
		}
		return nil, nil
	}
}
