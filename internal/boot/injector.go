//go:build wireinject
// +build wireinject

package boot

import (
	"github.com/google/wire"
)

// InitApp 由 wire 生成实现，见 wire_gen.go
func InitApp(configPath string) (*App, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
