package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const settingKey = "spread_charge_config"

const ruleSchema = `{
	"type": "object",
	"properties": {
		"enabled": {"type": "boolean"},
		"spread_pips": {"$ref": "#/$defs/amount"},
		"charge_mode": {"enum": ["per_lot", "per_execution", "percentage", ""]},
		"charge_amount": {"$ref": "#/$defs/amount"},
		"min_charge": {"$ref": "#/$defs/amount"},
		"max_charge": {"$ref": "#/$defs/amount"}
	}
}`

var documentSchema = jsonschema.MustCompileString("spread_charge_config.json", `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$defs": {
		"amount": {
			"anyOf": [
				{"type": "number", "minimum": 0},
				{"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
			]
		},
		"rule": `+ruleSchema+`
	},
	"type": "object",
	"properties": {
		"global": {"$ref": "#/$defs/rule"},
		"segments": {
			"type": "array",
			"items": {
				"allOf": [{"$ref": "#/$defs/rule"}],
				"required": ["asset_class"],
				"properties": {"asset_class": {"type": "string", "minLength": 1}}
			}
		},
		"instruments": {
			"type": "array",
			"items": {
				"allOf": [{"$ref": "#/$defs/rule"}],
				"required": ["symbol"],
				"properties": {"symbol": {"type": "string", "minLength": 1}}
			}
		}
	}
}`)

// Parse validates a JSON policy document against the schema and decodes it.
func Parse(raw []byte) (Config, error) {
	raw = bytes.TrimSpace(raw)
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("decode policy document: %w", err)
	}
	if err := documentSchema.Validate(doc); err != nil {
		return Config{}, fmt.Errorf("policy document: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode policy document: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return Normalize(cfg), nil
}

// PGSource reads the policy document stored under system_settings.
type PGSource struct {
	pool *pgxpool.Pool
}

func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

func (s *PGSource) Load(ctx context.Context) (Config, error) {
	if s == nil || s.pool == nil {
		return Defaults(), nil
	}
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT value
		FROM system_settings
		WHERE key = $1
	`, settingKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUndefinedTableError(err) {
			return Defaults(), nil
		}
		return Config{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return Defaults(), nil
	}
	return Parse([]byte(raw))
}

func (s *PGSource) Save(ctx context.Context, in Config) (Config, error) {
	if s == nil || s.pool == nil {
		return Defaults(), errors.New("database is unavailable")
	}
	cfg := Normalize(in)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO system_settings(key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, settingKey, string(payload))
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isUndefinedTableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
