package fdt

import (
	"fmt"
	"sync"
)

// Image is the process-wide hardware description blob. Discovery reads it on
// the cold-boot hart and fixups replace it before later software loads it.
type Image struct {
	mu   sync.RWMutex
	blob []byte
}

// NewImage wraps blob. The image keeps its own copy.
func NewImage(blob []byte) *Image {
	return &Image{blob: append([]byte(nil), blob...)}
}

// Bytes returns a copy of the current blob.
func (img *Image) Bytes() []byte {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return append([]byte(nil), img.blob...)
}

// Tree parses the current blob.
func (img *Image) Tree() (*Tree, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return Parse(img.blob)
}

// Update replaces the blob with the serialized tree.
func (img *Image) Update(t *Tree) error {
	blob, err := t.Blob()
	if err != nil {
		return fmt.Errorf("fdt: serialize: %w", err)
	}
	img.mu.Lock()
	img.blob = blob
	img.mu.Unlock()
	return nil
}
