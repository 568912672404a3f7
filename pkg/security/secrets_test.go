package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRejectsBadKeyLength(t *testing.T) {
	_, err := NewManager([]byte("too-short"))
	require.Error(t, err)
}

func TestNewManagerFromPassphraseRejectsEmpty(t *testing.T) {
	_, err := NewManagerFromPassphrase("")
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, err := NewManagerFromPassphrase("correct horse battery staple")
	require.NoError(t, err)

	cases := []string{"a-user-key", "", "another secret with spaces and symbols !@#"}
	for _, plaintext := range cases {
		ct, err := m.EncryptString(plaintext)
		require.NoError(t, err)
		if plaintext == "" {
			assert.Nil(t, ct)
			continue
		}
		pt, err := m.DecryptString(ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, pt)
	}
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	m, err := NewManagerFromPassphrase("pw")
	require.NoError(t, err)

	_, err = m.Decrypt([]byte("short"))
	require.Error(t, err)
}

func TestDifferentPassphrasesProduceIncompatibleKeys(t *testing.T) {
	m1, err := NewManagerFromPassphrase("pw-one")
	require.NoError(t, err)
	m2, err := NewManagerFromPassphrase("pw-two")
	require.NoError(t, err)

	ct, err := m1.EncryptString("secret")
	require.NoError(t, err)

	_, err = m2.Decrypt(ct)
	require.Error(t, err)
}
