package transport

import (
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/registry"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// Networks resolves served networks by name.
	Networks interface {
		Get(name string) (*registry.Network, bool)
		Networks() []*registry.Network
	}
)
