// Package config aggregates the subsystem configuration structs the core
// accepts (spec §6: buffer_pool_bytes, max_threads, checkpoint_wait_timeout_us,
// wal_size_threshold_bytes, ignore_errors). Each subsystem keeps its own
// config struct (the teacher's per-subsystem idiom — PagerConfig,
// BufferPoolConfig, MemoryPolicy); Options is the one root struct a host
// loads from YAML, following cuemby-warren's use of gopkg.in/yaml.v3 tags
// on its resource config structs.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Options is the root configuration for a Database instance.
type Options struct {
	// BufferPoolBytes sizes the clock-replacement buffer pool; default 1 GiB.
	BufferPoolBytes int64 `yaml:"bufferPoolBytes"`
	// MaxThreads bounds execution parallelism; 0 = runtime.NumCPU().
	MaxThreads int `yaml:"maxThreads"`
	// CheckpointWaitTimeout bounds how long a checkpoint waits for active
	// read-only transactions to drain before failing.
	CheckpointWaitTimeout time.Duration `yaml:"checkpointWaitTimeout"`
	// WALSizeThresholdBytes triggers an automatic checkpoint once exceeded.
	WALSizeThresholdBytes int64 `yaml:"walSizeThresholdBytes"`
	// IgnoreErrors makes batch inserts skip constraint-violating rows and
	// record them in a warning buffer instead of aborting the statement.
	IgnoreErrors bool `yaml:"ignoreErrors"`
	// PageSize is the fixed page size in bytes (spec default 4 KiB).
	PageSize int `yaml:"pageSize"`
}

const (
	DefaultBufferPoolBytes       = 1 << 30 // 1 GiB
	DefaultCheckpointWaitTimeout = 5 * time.Second
	DefaultWALSizeThresholdBytes = 64 << 20 // 64 MiB
	DefaultPageSize              = 4096
)

// Default returns the documented defaults from spec §6.
func Default() Options {
	return Options{
		BufferPoolBytes:       DefaultBufferPoolBytes,
		MaxThreads:            runtime.NumCPU(),
		CheckpointWaitTimeout: DefaultCheckpointWaitTimeout,
		WALSizeThresholdBytes: DefaultWALSizeThresholdBytes,
		IgnoreErrors:          false,
		PageSize:              DefaultPageSize,
	}
}

// LoadFile reads a YAML options file, applying documented defaults for any
// field the file omits.
func LoadFile(path string) (Options, error) {
	opt := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opt, fmt.Errorf("read options file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opt); err != nil {
		return opt, fmt.Errorf("parse options file: %w", err)
	}
	return opt, nil
}

// Normalize fills in zero-valued fields with documented defaults. Used when
// an Options value is constructed by hand rather than via Default()/LoadFile.
func (o Options) Normalize() Options {
	d := Default()
	if o.BufferPoolBytes <= 0 {
		o.BufferPoolBytes = d.BufferPoolBytes
	}
	if o.MaxThreads <= 0 {
		o.MaxThreads = d.MaxThreads
	}
	if o.CheckpointWaitTimeout <= 0 {
		o.CheckpointWaitTimeout = d.CheckpointWaitTimeout
	}
	if o.WALSizeThresholdBytes <= 0 {
		o.WALSizeThresholdBytes = d.WALSizeThresholdBytes
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	return o
}
