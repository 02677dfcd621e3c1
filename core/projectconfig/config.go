package projectconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/lanes"
	"github.com/davidahmann/hashhelix/core/ledger"
	"github.com/davidahmann/hashhelix/core/recurrence"
)

const DefaultPath = ".hashhelix/config.yaml"

type Config struct {
	Runtime  RuntimeDefaults  `yaml:"runtime"`
	Epochs   EpochDefaults    `yaml:"epochs"`
	Relics   RelicDefaults    `yaml:"relics"`
	Ledger   LedgerDefaults   `yaml:"ledger"`
	Pipeline PipelineDefaults `yaml:"pipeline"`
	// Strict is nil when unset; StrictMode reports the effective value.
	Strict *bool       `yaml:"strict"`
	Log    LogDefaults `yaml:"log"`
}

type RuntimeDefaults struct {
	Lanes       int    `yaml:"lanes"`
	Steps       int64  `yaml:"steps"`
	// Seed is nil when unset so that 0 stays a valid seed.
	Seed        *int64 `yaml:"seed"`
	SeedStride  int64  `yaml:"seed_stride"`
	Mode        string `yaml:"mode"`
	Sign        string `yaml:"sign"`
	Quantizer   string `yaml:"quantizer"`
	Interleaved bool   `yaml:"interleaved"`
	Workers     int    `yaml:"workers"`
	OutDir      string `yaml:"out_dir"`
}

type EpochDefaults struct {
	LaneDir     string `yaml:"lane_dir"`
	OutDir      string `yaml:"out_dir"`
	EpochLength int64  `yaml:"epoch_length"`
	MaxEpochs   int    `yaml:"max_epochs"`
}

type RelicDefaults struct {
	EpochDir       string `yaml:"epoch_dir"`
	OutDir         string `yaml:"out_dir"`
	EpochsPerRelic int    `yaml:"epochs_per_relic"`
	MaxRelics      int    `yaml:"max_relics"`
}

type LedgerDefaults struct {
	Path      string `yaml:"path"`
	Variant   string `yaml:"variant"`
	Quantizer string `yaml:"quantizer"`
}

type PipelineDefaults struct {
	WorkDir         string `yaml:"work_dir"`
	ValidateSchemas bool   `yaml:"validate_schemas"`
	CorruptionProbe bool   `yaml:"corruption_probe"`
}

type LogDefaults struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the values used when neither the config file nor a flag
// sets them.
func Default() Config {
	return Config{
		Runtime: RuntimeDefaults{
			Lanes:      4,
			Steps:      1000,
			Seed:       int64Ptr(1),
			SeedStride: 1,
			Mode:       string(lanes.ModeSequential),
			Sign:       "plus",
			Quantizer:  string(recurrence.QuantizeFloor),
			Workers:    1,
			OutDir:     "out/lanes",
		},
		Epochs: EpochDefaults{
			LaneDir:     "out/lanes",
			OutDir:      "out/epochs",
			EpochLength: 100,
		},
		Relics: RelicDefaults{
			EpochDir:       "out/epochs",
			OutDir:         "out/relics",
			EpochsPerRelic: 4,
		},
		Ledger: LedgerDefaults{
			Path:      "ledger.jsonl",
			Variant:   string(ledger.VariantChiral),
			Quantizer: string(recurrence.QuantizeFloor),
		},
		Pipeline: PipelineDefaults{WorkDir: "out/pipeline", ValidateSchemas: true},
		Log:      LogDefaults{Level: "info", Format: "text"},
	}
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, coreerrors.Config("config_path_required", "project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		if os.IsNotExist(err) {
			return Config{}, coreerrors.Config("config_missing", "project config does not exist: %s", trimmedPath)
		}
		return Config{}, coreerrors.IO(fmt.Errorf("read project config: %w", err), "config_read_failed")
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.UnmarshalWithOptions(content, &configuration, yaml.DisallowUnknownField()); err != nil {
		return Config{}, coreerrors.Config("config_parse_failed", "parse project config: %v", err)
	}
	configuration.normalize()
	if err := configuration.Validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Runtime.Mode = strings.ToLower(strings.TrimSpace(configuration.Runtime.Mode))
	configuration.Runtime.Sign = strings.ToLower(strings.TrimSpace(configuration.Runtime.Sign))
	configuration.Runtime.Quantizer = strings.ToLower(strings.TrimSpace(configuration.Runtime.Quantizer))
	configuration.Runtime.OutDir = strings.TrimSpace(configuration.Runtime.OutDir)
	configuration.Epochs.LaneDir = strings.TrimSpace(configuration.Epochs.LaneDir)
	configuration.Epochs.OutDir = strings.TrimSpace(configuration.Epochs.OutDir)
	configuration.Relics.EpochDir = strings.TrimSpace(configuration.Relics.EpochDir)
	configuration.Relics.OutDir = strings.TrimSpace(configuration.Relics.OutDir)
	configuration.Ledger.Path = strings.TrimSpace(configuration.Ledger.Path)
	configuration.Ledger.Variant = strings.ToLower(strings.TrimSpace(configuration.Ledger.Variant))
	configuration.Ledger.Quantizer = strings.ToLower(strings.TrimSpace(configuration.Ledger.Quantizer))
	configuration.Pipeline.WorkDir = strings.TrimSpace(configuration.Pipeline.WorkDir)
	configuration.Log.Level = strings.ToLower(strings.TrimSpace(configuration.Log.Level))
	configuration.Log.Format = strings.ToLower(strings.TrimSpace(configuration.Log.Format))
	configuration.Log.File = strings.TrimSpace(configuration.Log.File)
}

// Validate rejects values that could never start a run. Zero values mean
// "unset" and are accepted.
func (configuration Config) Validate() error {
	nonNegative := []struct {
		name  string
		value int64
	}{
		{"runtime.lanes", int64(configuration.Runtime.Lanes)},
		{"runtime.steps", configuration.Runtime.Steps},
		{"runtime.workers", int64(configuration.Runtime.Workers)},
		{"epochs.epoch_length", configuration.Epochs.EpochLength},
		{"epochs.max_epochs", int64(configuration.Epochs.MaxEpochs)},
		{"relics.epochs_per_relic", int64(configuration.Relics.EpochsPerRelic)},
		{"relics.max_relics", int64(configuration.Relics.MaxRelics)},
	}
	for _, field := range nonNegative {
		if field.value < 0 {
			return coreerrors.Config("config_value_invalid", "%s must be >= 0, got %d", field.name, field.value)
		}
	}
	if _, err := lanes.ParseMode(configuration.Runtime.Mode); err != nil {
		return coreerrors.Config("config_value_invalid", "runtime.mode: %v", err)
	}
	if _, err := recurrence.ParseSign(configuration.Runtime.Sign); err != nil {
		return coreerrors.Config("config_value_invalid", "runtime.sign: %v", err)
	}
	if _, err := recurrence.ParseQuantizer(configuration.Runtime.Quantizer); err != nil {
		return coreerrors.Config("config_value_invalid", "runtime.quantizer: %v", err)
	}
	if _, err := recurrence.ParseQuantizer(configuration.Ledger.Quantizer); err != nil {
		return coreerrors.Config("config_value_invalid", "ledger.quantizer: %v", err)
	}
	if _, err := ledger.ParseVariant(configuration.Ledger.Variant); err != nil {
		return coreerrors.Config("config_value_invalid", "ledger.variant: %v", err)
	}
	switch configuration.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return coreerrors.Config("config_value_invalid", "log.level must be debug, info, warn, or error, got %q", configuration.Log.Level)
	}
	switch configuration.Log.Format {
	case "", "text", "json":
	default:
		return coreerrors.Config("config_value_invalid", "log.format must be text or json, got %q", configuration.Log.Format)
	}
	return nil
}

func (configuration Config) StrictMode() bool {
	if configuration.Strict == nil {
		return true
	}
	return *configuration.Strict
}

// WithDefaults fills every unset value from Default.
func (configuration Config) WithDefaults() Config {
	defaults := Default()
	out := configuration
	fillInt(&out.Runtime.Lanes, defaults.Runtime.Lanes)
	fillInt64(&out.Runtime.Steps, defaults.Runtime.Steps)
	if out.Runtime.Seed == nil {
		out.Runtime.Seed = defaults.Runtime.Seed
	}
	fillInt64(&out.Runtime.SeedStride, defaults.Runtime.SeedStride)
	fillString(&out.Runtime.Mode, defaults.Runtime.Mode)
	fillString(&out.Runtime.Sign, defaults.Runtime.Sign)
	fillString(&out.Runtime.Quantizer, defaults.Runtime.Quantizer)
	fillInt(&out.Runtime.Workers, defaults.Runtime.Workers)
	fillString(&out.Runtime.OutDir, defaults.Runtime.OutDir)
	fillString(&out.Epochs.LaneDir, defaults.Epochs.LaneDir)
	fillString(&out.Epochs.OutDir, defaults.Epochs.OutDir)
	fillInt64(&out.Epochs.EpochLength, defaults.Epochs.EpochLength)
	fillString(&out.Relics.EpochDir, defaults.Relics.EpochDir)
	fillString(&out.Relics.OutDir, defaults.Relics.OutDir)
	fillInt(&out.Relics.EpochsPerRelic, defaults.Relics.EpochsPerRelic)
	fillString(&out.Ledger.Path, defaults.Ledger.Path)
	fillString(&out.Ledger.Variant, defaults.Ledger.Variant)
	fillString(&out.Ledger.Quantizer, defaults.Ledger.Quantizer)
	fillString(&out.Pipeline.WorkDir, defaults.Pipeline.WorkDir)
	fillString(&out.Log.Level, defaults.Log.Level)
	fillString(&out.Log.Format, defaults.Log.Format)
	return out
}

// SeedValue returns the configured seed, or 1 when unset.
func (runtime RuntimeDefaults) SeedValue() int64 {
	if runtime.Seed == nil {
		return 1
	}
	return *runtime.Seed
}

func int64Ptr(value int64) *int64 {
	return &value
}

func fillString(target *string, value string) {
	if *target == "" {
		*target = value
	}
}

func fillInt(target *int, value int) {
	if *target == 0 {
		*target = value
	}
}

func fillInt64(target *int64, value int64) {
	if *target == 0 {
		*target = value
	}
}
