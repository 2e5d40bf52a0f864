package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// KeyFunc derives the result-cache key for a task. The scheduler applies
// it once, when the task's result is stored.
type KeyFunc func(t *Task) string

// IDKey keys results by task ID. Every execution gets its own cache
// entry; this is the default.
func IDKey(t *Task) string {
	return t.ID.String()
}

// FingerprintKey keys results by task name plus parameter content, so
// identical submissions share a cache entry. Map keys serialize in
// sorted order, which makes the fingerprint stable across submissions
// with the same parameters.
func FingerprintKey(t *Task) string {
	h := sha256.New()
	h.Write([]byte(t.Name))
	h.Write([]byte{0})
	if data, err := json.Marshal(t.Params); err == nil {
		h.Write(data)
	} else {
		// Unserializable params fall back to stringification so the
		// key is still deterministic for this process.
		fmt.Fprintf(h, "%v", t.Params)
	}
	return hex.EncodeToString(h.Sum(nil))
}
