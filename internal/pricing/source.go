package pricing

import "context"

// Source loads the current administrative configuration.
type Source interface {
	Load(ctx context.Context) (Config, error)
}

// StaticSource always returns the same configuration.
type StaticSource Config

func (s StaticSource) Load(context.Context) (Config, error) {
	return Normalize(Config(s)), nil
}
