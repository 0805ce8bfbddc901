// Package secure keeps secret material encrypted in memory while it is in
// transit between a key store and a delivery client.
//
// Material wraps a memguard enclave. Sealing wipes the caller's slice, and
// the plaintext only exists inside a locked buffer for the duration of Use:
//
//	m := secure.Seal(value) // value is zeroed
//	defer m.Destroy()
//
//	err := m.Use(func(plain []byte) error {
//	    return client.PutData(ctx, dest, plain)
//	})
//
// The callback must not retain the slice it receives.
//
// For complete cleanup of all memguard state at exit, main calls
// memguard.Purge in a defer.
package secure
