package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := NewManagerWithKey("unit-test-master-key")

	ciphertext, err := m.EncryptPassword("s3cret-pa55word")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "s3cret")

	plaintext, err := m.DecryptPassword(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pa55word", plaintext)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	m := NewManagerWithKey("unit-test-master-key")

	a, err := m.EncryptPassword("same")
	require.NoError(t, err)
	b, err := m.EncryptPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	ciphertext, err := NewManagerWithKey("key-one").EncryptPassword("secret")
	require.NoError(t, err)

	_, err = NewManagerWithKey("key-two").DecryptPassword(ciphertext)
	assert.ErrorIs(t, err, ErrUnresolvableCredential)
}

func TestDecryptRefusesLegacyHashes(t *testing.T) {
	m := NewManagerWithKey("unit-test-master-key")

	for _, hash := range []string{
		"$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW",
		"$2b$10$abcdefghijklmnopqrstuv",
		"$2y$10$abcdefghijklmnopqrstuv",
	} {
		_, err := m.DecryptPassword(hash)
		assert.ErrorIs(t, err, ErrUnresolvableCredential, hash)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	m := NewManagerWithKey("unit-test-master-key")

	_, err := m.DecryptPassword("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrUnresolvableCredential)

	_, err = m.DecryptPassword("YQ==") // valid base64, far too short
	assert.ErrorIs(t, err, ErrUnresolvableCredential)
}

func TestEmptyValues(t *testing.T) {
	m := NewManagerWithKey("unit-test-master-key")

	_, err := m.EncryptPassword("")
	assert.Error(t, err)

	plaintext, err := m.DecryptPassword("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestNewManagerRequiresMasterKey(t *testing.T) {
	t.Setenv(MasterKeyEnv, "")
	_, err := NewManager()
	assert.Error(t, err)

	t.Setenv(MasterKeyEnv, "from-env")
	m, err := NewManager()
	require.NoError(t, err)

	ciphertext, err := m.EncryptPassword("x")
	require.NoError(t, err)
	plaintext, err := m.DecryptPassword(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "x", plaintext)
}

func TestIsLegacyHash(t *testing.T) {
	assert.True(t, IsLegacyHash("$2b$10$abc"))
	assert.False(t, IsLegacyHash("AAAA"))
	assert.False(t, IsLegacyHash(""))
}
