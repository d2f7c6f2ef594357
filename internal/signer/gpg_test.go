package signer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("albaem test", "", "albaem@example.com", nil)
	require.NoError(t, err)
	return entity
}

func writePrivateKey(t *testing.T, entity *openpgp.Entity) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "key.asc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func TestSignDetachedVerifies(t *testing.T) {
	entity := newTestEntity(t)
	s, err := NewGPGSigner(writePrivateKey(t, entity), "")
	require.NoError(t, err)

	data := []byte("point,CHAN01\n0,1e-09\n")
	sig, err := s.SignDetached(data)
	require.NoError(t, err)
	assert.Contains(t, string(sig), "BEGIN PGP SIGNATURE")

	pub, err := s.PublicKey()
	require.NoError(t, err)
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(pub))
	require.NoError(t, err)

	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil)
	require.NoError(t, err)
	assert.Equal(t, entity.PrimaryKey.KeyId, signer.PrimaryKey.KeyId)

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader([]byte("tampered")), bytes.NewReader(sig), nil)
	assert.Error(t, err)
}

func TestNewGPGSignerErrors(t *testing.T) {
	_, err := NewGPGSigner("", "")
	assert.Error(t, err)

	_, err = NewGPGSigner(filepath.Join(t.TempDir(), "missing.asc"), "")
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0600))
	_, err = NewGPGSigner(garbage, "")
	assert.Error(t, err)
}

func TestPublicKeyOnlyIsRejected(t *testing.T) {
	pub, err := NewEntitySigner(newTestEntity(t)).PublicKey()
	require.NoError(t, err)

	_, err = ReadGPGSigner(bytes.NewReader(pub), "")
	assert.Error(t, err)
}
