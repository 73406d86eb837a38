//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"github.com/yushao2/sre-agent/internal/app"
)

// InitializeApp builds the fully wired application. The returned cleanup
// closes database and broker connections.
func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	wire.Build(AppSet)
	return nil, nil, nil
}
