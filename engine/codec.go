package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/persistence"
)

// Encode writes idx as one persisted blob to w.
func Encode(w io.Writer, idx index.Index, optFns ...func(*persistence.Options)) (int64, error) {
	cfg, err := json.Marshal(idx.Config())
	if err != nil {
		return 0, fmt.Errorf("engine: encode config: %w", err)
	}

	var payload bytes.Buffer
	if err := idx.MarshalPayload(&payload); err != nil {
		return 0, fmt.Errorf("engine: marshal payload: %w", err)
	}
	return persistence.Encode(w, cfg, uint64(idx.Len()), payload.Bytes(), optFns...)
}

// Decode reconstructs an index from a blob written by Encode. Every
// structural problem is reported as a vecbench.CorruptIndexError that also
// wraps the underlying cause.
func Decode(reg *index.Registry, data []byte) (index.Index, error) {
	h, payload, err := persistence.Decode(data)
	if err != nil {
		return nil, vecbench.NewCorruptIndexError("invalid envelope", err)
	}

	var cfg index.Config
	dec := json.NewDecoder(bytes.NewReader(h.Config))
	dec.UseNumber()
	if err := dec.Decode(&cfg); err != nil {
		return nil, vecbench.NewCorruptIndexError("invalid config", err)
	}

	idx, err := reg.New(cfg)
	if err != nil {
		return nil, vecbench.NewCorruptIndexError(fmt.Sprintf("config %s/%d/%s is not loadable", cfg.Kind, cfg.Dim, cfg.Metric), err)
	}
	if err := idx.UnmarshalPayload(payload); err != nil {
		var corrupt *vecbench.CorruptIndexError
		if errors.As(err, &corrupt) {
			return nil, err
		}
		return nil, vecbench.NewCorruptIndexError(fmt.Sprintf("invalid %s payload", cfg.Kind), err)
	}
	if uint64(idx.Len()) != h.Count {
		return nil, vecbench.NewCorruptIndexError(fmt.Sprintf("declared %d vectors, payload holds %d", h.Count, idx.Len()), nil)
	}
	return idx, nil
}
