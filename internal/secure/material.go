package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Material holds one secret value encrypted at rest in memory
type Material struct {
	mu        sync.Mutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// Seal moves data into an encrypted enclave and wipes data. Empty input is
// allowed and yields empty material.
func Seal(data []byte) *Material {
	m := &Material{size: len(data)}
	if len(data) > 0 {
		m.enclave = memguard.NewEnclave(data)
	}
	return m
}

// Len returns the size of the sealed value
func (m *Material) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return 0
	}
	return m.size
}

// Use decrypts the value into a locked buffer, hands it to fn, and wipes the
// buffer when fn returns. Destroyed material is presented as empty.
func (m *Material) Use(fn func(plain []byte) error) error {
	m.mu.Lock()
	enclave := m.enclave
	destroyed := m.destroyed
	m.mu.Unlock()

	if destroyed || enclave == nil {
		return fn([]byte{})
	}

	locked, err := enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy drops the enclave. It is safe to call more than once.
func (m *Material) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enclave = nil
	m.destroyed = true
}
