package secrets

// Sealer encrypts and decrypts item secrets bound to their envelope context.
// Secrets are encrypted at rest and decrypted in memory only on the
// resolution and reveal paths. Satisfied by *Keyring.
type Sealer interface {
	Seal(plaintext []byte, ec EnvelopeContext) (Envelope, error)
	Open(env Envelope, ec EnvelopeContext) ([]byte, error)
	CurrentVersion() int
}

var _ Sealer = (*Keyring)(nil)
