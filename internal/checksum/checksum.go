// Package checksum names the hash algorithms a collection can be created
// with. The name is stored in every BlockFile header, so a name must keep
// meaning the same algorithm forever.
package checksum

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Default is the algorithm used when none is configured.
const Default = "sha256"

// MinSize is the smallest digest accepted. Content ids are derived from
// digests and are split into three path components.
const MinSize = 4

// Algorithm is a named hash function.
type Algorithm struct {
	Name string
	Size int
	New  func() hash.Hash
}

// Sum returns the digest of data.
func (a *Algorithm) Sum(data []byte) []byte {
	h := a.New()
	h.Write(data)
	return h.Sum(nil)
}

var (
	mu         sync.RWMutex
	algorithms = map[string]*Algorithm{}
)

func init() {
	mustRegister(&Algorithm{Name: "sha256", Size: sha256.Size, New: sha256.New})
	mustRegister(&Algorithm{Name: "sha3-256", Size: 32, New: sha3.New256})
	mustRegister(&Algorithm{Name: "blake2b-256", Size: blake2b.Size256, New: func() hash.Hash {
		h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
		return h
	}})
}

func mustRegister(a *Algorithm) {
	if err := Register(a); err != nil {
		panic(err)
	}
}

// Register adds an algorithm to the registry.
func Register(a *Algorithm) error {
	if a.Name == "" || a.New == nil {
		return fmt.Errorf("checksum: incomplete algorithm definition")
	}
	if a.Size < MinSize {
		return fmt.Errorf("checksum: %s digest of %d bytes is shorter than %d", a.Name, a.Size, MinSize)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := algorithms[a.Name]; ok {
		return fmt.Errorf("checksum: %s already registered", a.Name)
	}
	algorithms[a.Name] = a
	return nil
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (*Algorithm, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("checksum: unknown algorithm %q", name)
	}
	return a, nil
}

// Names lists the registered algorithm names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(algorithms))
	for n := range algorithms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
