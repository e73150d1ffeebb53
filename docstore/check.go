package docstore

import (
	"fmt"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/chunker"
)

func checkPut(doc Document, chunks []chunker.Chunk) error {
	if doc.ID == "" {
		return vecbench.NewConfigError("document_id", "must not be empty")
	}
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.DocumentID != doc.ID {
			return vecbench.NewConfigError("document_id", fmt.Sprintf("chunk %q belongs to %q, not %q", c.ID, c.DocumentID, doc.ID))
		}
		if c.ID == "" {
			return vecbench.NewConfigError("chunk_id", "must not be empty")
		}
		if _, dup := seen[c.ID]; dup {
			return vecbench.NewConfigError("chunk_id", fmt.Sprintf("duplicate chunk id %q", c.ID))
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
