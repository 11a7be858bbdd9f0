package refresh

import (
	"context"
	"time"

	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Dialer interface {
		Dial(ctx context.Context) (Session, error)
	}
	Session interface {
		SyncOnce(ctx context.Context) (chain.Tip, error)
		WaitForNewTip(ctx context.Context, since chain.Tip) (chain.Tip, error)
		Close()
	}
	Notifier interface {
		Notify() error
	}
	Metrics interface {
		ObserveDial(err error, started time.Time)
		ObserveSync(err error, height uint64, started time.Time)
	}
)

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Session, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}
