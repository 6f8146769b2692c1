package mempool

import (
	"fmt"
	"math"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Algorithm identifies the record-level algorithm a run evaluates.
type Algorithm string

const (
	AlgorithmUnknown  Algorithm = ""
	AlgorithmKeyValue Algorithm = "KEY-VALUE"
	AlgorithmSort     Algorithm = "SORT"
	AlgorithmSelect   Algorithm = "SELECT"
	AlgorithmTotal    Algorithm = "TOTAL"
)

// ParseAlgorithm converts the external algorithm name into an Algorithm.
func ParseAlgorithm(s string) Algorithm {
	switch Algorithm(s) {
	case AlgorithmKeyValue, AlgorithmSort, AlgorithmSelect, AlgorithmTotal:
		return Algorithm(s)
	}
	return AlgorithmUnknown
}

// ThreadsConfig describes the worker pool shape.
type ThreadsConfig struct {
	// Count is the number of workers and, equally, of portions.
	Count int `yaml:"count"`
	// PortionSize is the per-worker slice size in bytes. It must equal
	// granularity × record capacity × portion capacity.
	PortionSize datasize.ByteSize `yaml:"portion_size"`
}

// ItemConfig describes a single item.
type ItemConfig struct {
	// Granularity is the item size in bytes, a power of two in [1, 1024].
	Granularity int `yaml:"granularity"`
}

// RecordConfig describes a record.
type RecordConfig struct {
	// Capacity is the number of items per record, 1..64.
	Capacity int `yaml:"capacity"`
}

// PortionConfig describes a portion.
type PortionConfig struct {
	// Capacity is the maximum number of records in one portion.
	Capacity int `yaml:"capacity"`
	// Count is the number of live records in one portion.
	Count int `yaml:"count"`
}

// KeyConfig selects the items of a record that form the derived key.
type KeyConfig struct {
	Mask Mask `yaml:"mask"`
}

// ValueConfig selects the items of a record that form the value.
type ValueConfig struct {
	Mask Mask `yaml:"mask"`
}

// ConditionConfig is the closed-open key interval used by SELECT.
type ConditionConfig struct {
	Min uint64 `yaml:"min"`
	Max uint64 `yaml:"max"`
}

type Config config
type config struct {
	Threads   ThreadsConfig   `yaml:"threads"`
	Item      ItemConfig      `yaml:"item"`
	Record    RecordConfig    `yaml:"record"`
	Portion   PortionConfig   `yaml:"portion"`
	Key       KeyConfig       `yaml:"key"`
	Value     ValueConfig     `yaml:"value"`
	Condition ConditionConfig `yaml:"condition"`
	Algorithm Algorithm       `yaml:"algorithm"`
	// ShowDebug enables diagnostic emission.
	ShowDebug bool `yaml:"show_debug"`
}

// DefaultConfig returns the configuration with the same defaults the
// original command line tool starts from.
func DefaultConfig() *Config {
	return &Config{
		Item:   ItemConfig{Granularity: 1},
		Record: RecordConfig{Capacity: 1},
		Condition: ConditionConfig{
			Min: 0,
			Max: math.MaxUint64,
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
//
// To avoid infinite recursion, the validating wrapper casts itself to the
// private config struct. This allows the decoder to operate on it using the
// default behavior for handling Go structs without an unmarshal method.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}
	return m.Validate()
}

// Layout derives the record layout from the configuration.
func (m *Config) Layout() Layout {
	return Layout{
		Granularity:     m.Item.Granularity,
		RecordCapacity:  m.Record.Capacity,
		PortionCapacity: m.Portion.Capacity,
		PortionCount:    m.Portion.Count,
	}
}

// Validate checks the configuration against the constraints the engine
// relies on. It is called before any worker is spawned.
func (m *Config) Validate() error {
	if !validGranularity(m.Item.Granularity) {
		return fmt.Errorf("%w: item granularity %d is not a power of two in [1, 1024]",
			ErrConfigInvalid, m.Item.Granularity)
	}

	if m.Record.Capacity < 1 || m.Record.Capacity > 64 {
		return fmt.Errorf("%w: record capacity %d is out of [1, 64]",
			ErrConfigInvalid, m.Record.Capacity)
	}

	if m.Portion.Count > m.Portion.Capacity {
		return fmt.Errorf("%w: portion count %d exceeds capacity %d",
			ErrConfigInvalid, m.Portion.Count, m.Portion.Capacity)
	}

	if m.Portion.Count < 0 || m.Portion.Capacity < 1 {
		return fmt.Errorf("%w: portion descriptor count %d, capacity %d",
			ErrConfigInvalid, m.Portion.Count, m.Portion.Capacity)
	}

	portionSize := uint64(m.Item.Granularity) * uint64(m.Record.Capacity) *
		uint64(m.Portion.Capacity)
	if portionSize != uint64(m.Threads.PortionSize) {
		return fmt.Errorf("%w: portion size %d does not match granularity %d, "+
			"record capacity %d, portion capacity %d",
			ErrConfigInvalid, m.Threads.PortionSize,
			m.Item.Granularity, m.Record.Capacity, m.Portion.Capacity)
	}

	if m.Threads.Count < 0 {
		return fmt.Errorf("%w: thread count %d", ErrConfigInvalid, m.Threads.Count)
	}

	if ParseAlgorithm(string(m.Algorithm)) == AlgorithmUnknown {
		return fmt.Errorf("%w: unknown algorithm %q", ErrConfigInvalid, m.Algorithm)
	}

	return nil
}

// BufferSize is the required size of the input and output buffers.
func (m *Config) BufferSize() uint64 {
	return uint64(m.Threads.Count) * uint64(m.Threads.PortionSize)
}

func validGranularity(granularity int) bool {
	switch granularity {
	case 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024:
		return true
	}
	return false
}
