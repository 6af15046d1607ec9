package app

import (
	"context"

	"quantsim/internal/config"

	"github.com/google/wire"
)

// providerSet 供 wire 生成 buildAppWithWire。
var providerSet = wire.NewSet(provideAppBuilder, provideAppFromBuilder)

func provideAppFromBuilder(b *AppBuilder, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}
