package index

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/distance"
)

// Kind names an index backend variant.
type Kind string

const (
	KindFlat Kind = "flat"
	KindIVF  Kind = "ivf"
	KindHNSW Kind = "hnsw"
	KindPQ   Kind = "pq"
)

// ParseKind normalizes s into a Kind. Whether the kind is known is decided by
// the Registry it is resolved against.
func ParseKind(s string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(s)))
}

// Params holds backend-specific options by name.
type Params map[string]any

// Int returns the integer option name, or def when it is not set.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return integral(name, float64(n))
	case float64:
		return integral(name, n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, vecbench.NewConfigError(name, fmt.Sprintf("expected an integer, got %q", n.String()))
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, vecbench.NewConfigError(name, fmt.Sprintf("expected an integer, got %q", n))
		}
		return i, nil
	default:
		return 0, vecbench.NewConfigError(name, fmt.Sprintf("expected an integer, got %T", v))
	}
}

// Positive is Int with the additional requirement that the value is > 0.
func (p Params) Positive(name string, def int) (int, error) {
	v, err := p.Int(name, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, vecbench.NewConfigError(name, fmt.Sprintf("must be positive, got %d", v))
	}
	return v, nil
}

// Check rejects option names outside allowed.
func (p Params) Check(kind Kind, allowed ...string) error {
	for _, name := range slices.Sorted(maps.Keys(p)) {
		if !slices.Contains(allowed, name) {
			return vecbench.NewConfigError(name, fmt.Sprintf("unknown %s option (allowed: %s)", kind, strings.Join(allowed, ", ")))
		}
	}
	return nil
}

func integral(name string, f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, vecbench.NewConfigError(name, fmt.Sprintf("expected an integer, got %v", f))
	}
	return int(f), nil
}

// Config is the immutable configuration of one index instance.
type Config struct {
	Kind   Kind            `json:"backend_kind" yaml:"backend_kind"`
	Dim    int             `json:"dim" yaml:"dim"`
	Metric distance.Metric `json:"metric" yaml:"metric"`
	Params Params          `json:"backend_params,omitempty" yaml:"backend_params,omitempty"`
}

// Validate checks the fields that every backend requires.
// Backend-specific options are validated by the backend factory.
func (c Config) Validate() error {
	if c.Kind == "" {
		return vecbench.NewConfigError("backend_kind", "must be set")
	}
	if c.Dim <= 0 {
		return vecbench.NewConfigError("dim", fmt.Sprintf("must be positive, got %d", c.Dim))
	}
	if !c.Metric.Valid() {
		return vecbench.NewConfigError("metric", fmt.Sprintf("unsupported metric %v", c.Metric))
	}
	return nil
}

// Clone returns a copy that shares no mutable state with c.
func (c Config) Clone() Config {
	c.Params = maps.Clone(c.Params)
	return c
}

// Equal reports whether both configs describe the same index. Params are
// compared by their JSON encoding, so 16 and 16.0 are equal.
func (c Config) Equal(o Config) bool {
	if c.Kind != o.Kind || c.Dim != o.Dim || c.Metric != o.Metric {
		return false
	}
	if len(c.Params) == 0 && len(o.Params) == 0 {
		return true
	}
	a, errA := json.Marshal(c.Params)
	b, errB := json.Marshal(o.Params)
	return errA == nil && errB == nil && string(a) == string(b)
}

// String renders the config compactly, e.g. "hnsw/cosine/384{M=16,ef_search=64}".
func (c Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s/%d", c.Kind, c.Metric, c.Dim)
	if len(c.Params) > 0 {
		sb.WriteByte('{')
		for i, k := range slices.Sorted(maps.Keys(c.Params)) {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%s=%v", k, c.Params[k])
		}
		sb.WriteByte('}')
	}
	return sb.String()
}
