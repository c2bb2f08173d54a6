package instruments

import (
	"fmt"

	"lv-riskengine/internal/config"

	"github.com/spf13/viper"
)

type fileDocument struct {
	Instruments []Spec `mapstructure:"instruments"`
}

// LoadFile reads instrument overrides from a YAML/JSON/TOML file.
func LoadFile(path string) ([]Spec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	var doc fileDocument
	if err := v.Unmarshal(&doc, viper.DecodeHook(config.DecodeHooks())); err != nil {
		return nil, fmt.Errorf("decode instruments file: %w", err)
	}
	for i, s := range doc.Instruments {
		if Normalize(s.Symbol) == "" {
			return nil, fmt.Errorf("instruments file: entry %d has no symbol", i)
		}
	}
	return doc.Instruments, nil
}
