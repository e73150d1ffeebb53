// Package catalog records the persisted versions of named indexes.
//
// Every persist of an index publishes a new version. Versions of one name
// are numbered 1, 2, 3, ... and committed with compare-and-swap semantics:
// when two writers race for the same version number exactly one wins and
// the other receives ErrConcurrentModification.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/index"
)

var (
	// ErrNotFound is returned when a name or version has no record.
	ErrNotFound = errors.New("catalog: version not found")
	// ErrConcurrentModification is returned when the version being
	// committed was published by another writer first.
	ErrConcurrentModification = errors.New("catalog: concurrent modification detected")
)

// Record describes one persisted index version.
type Record struct {
	Name        string       `json:"name"`
	Version     uint64       `json:"version"`
	Blob        string       `json:"blob"`
	Config      index.Config `json:"config"`
	VectorCount int          `json:"vector_count"`
	Bytes       int64        `json:"bytes"`
	CreatedAt   time.Time    `json:"created_at"`
	BuildMillis int64        `json:"build_ms"`
}

// Catalog stores version records.
type Catalog interface {
	// Commit publishes rec. rec.Version must not exist yet for rec.Name.
	Commit(ctx context.Context, rec Record) error

	// Latest returns the highest committed version of name.
	Latest(ctx context.Context, name string) (Record, error)

	// Get returns one version of name.
	Get(ctx context.Context, name string, version uint64) (Record, error)

	// List returns all versions of name, oldest first.
	List(ctx context.Context, name string) ([]Record, error)

	// Delete removes one version record. The blob is left to the caller.
	Delete(ctx context.Context, name string, version uint64) error
}

// ValidateName checks that name can be used as an index name. Names become
// blob path segments so they may not contain slashes.
func ValidateName(name string) error {
	if name == "" {
		return vecbench.NewConfigError("name", "must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return vecbench.NewConfigError("name", fmt.Sprintf("invalid index name %q", name))
	}
	return nil
}

// BlobName returns the blob name used for a version. The nonce keeps
// writers racing for the same version from overwriting each other's blob.
func BlobName(name string, version uint64, nonce string) string {
	if nonce == "" {
		return fmt.Sprintf("%s/v%06d.vbx", name, version)
	}
	return fmt.Sprintf("%s/v%06d-%s.vbx", name, version, nonce)
}

// Next returns the version number that follows the latest committed one.
func Next(ctx context.Context, c Catalog, name string) (uint64, error) {
	latest, err := c.Latest(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.Version + 1, nil
}

func checkRecord(rec Record) error {
	if err := ValidateName(rec.Name); err != nil {
		return err
	}
	if rec.Version == 0 {
		return vecbench.NewConfigError("version", "must be positive")
	}
	return nil
}
