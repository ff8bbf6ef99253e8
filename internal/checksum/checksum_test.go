package checksum

import (
	"encoding/hex"
	"hash"
	"hash/crc32"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		size int
		// digest of "abc"
		abc string
	}{
		{"sha256", 32, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"sha3-256", 32, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
		{"blake2b-256", 32, "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Lookup(tt.name)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if a.Size != tt.size {
				t.Errorf("Size = %d, want %d", a.Size, tt.size)
			}
			if got := hex.EncodeToString(a.Sum([]byte("abc"))); got != tt.abc {
				t.Errorf("Sum(abc) = %s, want %s", got, tt.abc)
			}
		})
	}

	if _, err := Lookup("md5"); err == nil {
		t.Error("Lookup(md5) expected error")
	}
}

func TestRegister(t *testing.T) {
	t.Run("rejects short digests", func(t *testing.T) {
		err := Register(&Algorithm{Name: "tiny", Size: 2, New: nil})
		if err == nil {
			t.Fatal("Register() expected error")
		}
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		a := &Algorithm{Name: "crc32-test", Size: 4, New: func() hash.Hash { return crc32.NewIEEE() }}
		if err := Register(a); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if err := Register(a); err == nil {
			t.Error("second Register() expected error")
		}
	})
}
