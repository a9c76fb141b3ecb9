// Package secrets seals sensitive application fields before they reach the
// checkpoint store. Sealed values are AES-256-GCM ciphertext and can only be
// opened by a process holding the same key.
package secrets

// Sealer encrypts and decrypts individual field values.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// SealedFields lists the application paths that carry credentials and must
// never be checkpointed in the clear.
var SealedFields = []string{"api_key"}

// SealApplication seals every known sensitive top-level field in place.
// Already-sealed values are left untouched so a resume merge cannot
// double-encrypt.
func SealApplication(s Sealer, app map[string]any) error {
	if s == nil || app == nil {
		return nil
	}
	for _, field := range SealedFields {
		raw, ok := app[field].(string)
		if !ok || raw == "" || IsSealed(raw) {
			continue
		}
		sealed, err := s.Seal(raw)
		if err != nil {
			return err
		}
		app[field] = sealed
	}
	return nil
}
