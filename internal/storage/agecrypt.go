package storage

import (
	"bytes"
	"context"
	"io"
	"os"

	"filippo.io/age"
	"github.com/pkg/errors"
)

var ErrEncryptionFailed = errors.New("encryption failed")

// EncryptedBackend encrypts every blob with an age X25519 identity before
// handing it to the wrapped backend. Keys stay in plaintext.
type EncryptedBackend struct {
	inner     Backend
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

var _ Backend = (*EncryptedBackend)(nil)

func NewEncryptedBackend(inner Backend, identity *age.X25519Identity) *EncryptedBackend {
	return &EncryptedBackend{
		inner:     inner,
		identity:  identity,
		recipient: identity.Recipient(),
	}
}

// LoadIdentity reads the first X25519 identity from an age key file.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open age identity %s", path)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse age identity %s", path)
	}

	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}

	return nil, errors.Errorf("no X25519 identity found in %s", path)
}

func (eb *EncryptedBackend) Put(ctx context.Context, key string, blob []byte) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, eb.recipient)
	if err != nil {
		return errors.Wrapf(ErrEncryptionFailed, "could not create encrypted writer for %s: %s", key, err.Error())
	}

	if _, err := w.Write(blob); err != nil {
		return errors.Wrapf(ErrEncryptionFailed, "could not encrypt %s: %s", key, err.Error())
	}

	if err := w.Close(); err != nil {
		return errors.Wrapf(ErrEncryptionFailed, "could not finalize encryption of %s: %s", key, err.Error())
	}

	return eb.inner.Put(ctx, key, buf.Bytes())
}

func (eb *EncryptedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	ciphertext, err := eb.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), eb.identity)
	if err != nil {
		return nil, errors.Wrapf(ErrEncryptionFailed, "could not decrypt %s: %s", key, err.Error())
	}

	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(ErrEncryptionFailed, "could not read decrypted %s: %s", key, err.Error())
	}

	return blob, nil
}

func (eb *EncryptedBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	return eb.inner.Keys(ctx, prefix)
}

func (eb *EncryptedBackend) Close() error {
	return eb.inner.Close()
}
