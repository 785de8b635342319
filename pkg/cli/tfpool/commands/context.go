package commands

import (
	"context"

	"github.com/kralicky/tfpool/pkg/config"
)

const GroupIdTerraformCommands = "terraform"

type (
	configContextKeyType struct{}
)

var configContextKey configContextKeyType

func ContextWithConfig(ctx context.Context, conf *config.Config) context.Context {
	return context.WithValue(ctx, configContextKey, conf)
}

func configFromContext(ctx context.Context) (*config.Config, bool) {
	conf, ok := ctx.Value(configContextKey).(*config.Config)
	return conf, ok
}
