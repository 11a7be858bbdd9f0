// Package transport exposes gRPC/HTTP handlers.
package transport

import (
	"context"
	"fmt"
	"strings"

	blockinsight7000v1 "github.com/goodnatureofminers/blockinsight7000-proto/pkg/blockinsight7000/v1"
)

// ExplorerHandler implements ExplorerServiceServer.
type ExplorerHandler struct {
	blockinsight7000v1.UnimplementedExplorerServiceServer

	networks Networks
}

// NewExplorerHandler returns an ExplorerHandler instance.
func NewExplorerHandler(networks Networks) blockinsight7000v1.ExplorerServiceServer {
	return &ExplorerHandler{networks: networks}
}

// Health reports server health together with the cached height of every network.
func (h *ExplorerHandler) Health(_ context.Context, _ *blockinsight7000v1.HealthRequest) (*blockinsight7000v1.HealthResponse, error) {
	networks := h.networks.Networks()
	parts := make([]string, 0, len(networks))
	for _, n := range networks {
		if state := n.Cache.Read(); state != nil {
			parts = append(parts, fmt.Sprintf("%s@%d", n.Name, state.Height))
		} else {
			parts = append(parts, n.Name+"@empty")
		}
	}

	return &blockinsight7000v1.HealthResponse{
		Status:      blockinsight7000v1.HealthStatus_HEALTH_STATUS_HEALTHY,
		Description: strings.Join(parts, ", "),
	}, nil
}
