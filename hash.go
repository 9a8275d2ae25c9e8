package streamcache

import (
	"encoding/hex"
	"fmt"
	"hash"
	"sync"
)

// Default size for the buffers used when copying cached content
const defaultBufferSize = 32 * 1024 // 32KB

// bufferPool is a pool of byte slices used for file I/O during copies
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// digest hashes the whole content of e with h and returns it as a hex string.
func digest(e *entry, h hash.Hash) (string, error) {
	if _, err := e.writeTo(h, 0); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
