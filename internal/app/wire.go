//go:build wireinject

package app

import (
	"sentinel/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(cfg *config.Config, cfgPath string) (*App, error) {
	wire.Build(newApp)
	return nil, nil
}
