package backend

import "sync"

// FingerprintCache holds decoded fingerprints keyed by MetadataID so a track is
// decoded once per run even when several albums or goroutines ask for it.
// Lookups are lock-free; the mutex only covers decode-and-insert.
type FingerprintCache struct {
	values sync.Map // MetadataID -> []uint32
	mu     sync.Mutex
	decode func(string) []uint32
}

// NewFingerprintCache returns an empty cache using DecodeFingerprint.
func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{decode: DecodeFingerprint}
}

// Get returns the decoded fingerprint for id, decoding text on first use.
// Empty results are cached too so a broken fingerprint is decoded only once.
func (c *FingerprintCache) Get(id, text string) []uint32 {
	if v, ok := c.values.Load(id); ok {
		return v.([]uint32)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values.Load(id); ok {
		return v.([]uint32)
	}
	decode := c.decode
	if decode == nil {
		decode = DecodeFingerprint
	}
	values := decode(text)
	c.values.Store(id, values)
	return values
}

// Len reports the number of cached entries.
func (c *FingerprintCache) Len() int {
	n := 0
	c.values.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
