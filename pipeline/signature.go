package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// IndexSignature fingerprints every parameter that shapes the persisted
// index. Any change to the embedding model, its dimension, the chunking
// parameters or the target table invalidates existing chunk ids and
// embeddings, so a signature mismatch forces a full rebuild.
func IndexSignature(embeddingModel string, embeddingDim int, chunkParams map[string]interface{}, tableName string) string {
	payload := map[string]interface{}{
		"embedding_model": embeddingModel,
		"embedding_dim":   embeddingDim,
		"chunking":        chunkParams,
		"table_name":      tableName,
	}
	canonical := canonicalJSON(payload)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders a value with sorted object keys and compact
// separators so the signature is stable across runs and processes.
func canonicalJSON(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			kb, _ := json.Marshal(k)
			parts = append(parts, fmt.Sprintf("%s:%s", kb, canonicalJSON(val[k])))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, canonicalJSON(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
