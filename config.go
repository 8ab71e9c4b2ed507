// Package reelforge holds the engine's ambient configuration (spec.md §6:
// "the engine itself reads nothing from the environment"). Config is
// loaded by the out-of-scope CLI from YAML and passed down explicitly to
// constructors, rather than read from globals anywhere in the engine.
package reelforge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BlobPersistencePolicy names whether blobs written by a partially failed
// run are to be kept for retry or discarded. It is carried in Config for
// the caller; no package in this module reads it, and the engine itself
// never deletes a written blob.
type BlobPersistencePolicy string

const (
	// BlobPersistenceKeep names retaining every written blob regardless of
	// the owning job's final status, so a retry can reuse succeeded siblings.
	BlobPersistenceKeep BlobPersistencePolicy = "keep"
	// BlobPersistenceDiscardFailed names removing blobs belonging to jobs
	// whose artifact event ended up failed, once the run completes.
	BlobPersistenceDiscardFailed BlobPersistencePolicy = "discard-failed"
)

// Config is the engine's ambient configuration struct (spec.md §6's
// "Environment-driven knobs", carried here as an explicit struct instead
// of environment reads, per spec.md §9's "no global state" design note).
type Config struct {
	// StorageRoot is the filesystem root passed to store/fs.New.
	StorageRoot string `yaml:"storageRoot"`
	// DefaultConcurrency is the worker-pool size the demo CLI passes to
	// engine.ExecutePlan; runner.Execute never reads Config and uses 1
	// when given a concurrency below 1.
	DefaultConcurrency int `yaml:"defaultConcurrency"`
	// BlobPersistence is the default policy for blobs from a partially
	// failed run (see BlobPersistencePolicy: nothing in the engine acts
	// on it).
	BlobPersistence BlobPersistencePolicy `yaml:"blobPersistence"`
	// CatalogSource names the provider-catalog backend to construct
	// ("memory", "mongo", or "redis"); the CLI maps this to a concrete
	// catalog.Source, the engine never depends on the string.
	CatalogSource string `yaml:"catalogSource"`
}

// DefaultConfig returns the configuration the demo CLI and tests fall back
// to when no config file is supplied.
func DefaultConfig() Config {
	return Config{
		StorageRoot:        "./reelforge-data",
		DefaultConcurrency: 1,
		BlobPersistence:    BlobPersistenceKeep,
		CatalogSource:      "memory",
	}
}

// LoadConfig reads and decodes a YAML config file at path. A missing file
// is not an error: DefaultConfig is returned so a fresh checkout runs
// without any setup.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reelforge: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("reelforge: parse config %s: %w", path, err)
	}
	return cfg, nil
}
