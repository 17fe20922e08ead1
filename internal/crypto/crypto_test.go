package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newKeyedStore(t *testing.T) *KeyStore {
	t.Helper()
	salt, err := NewSalt()
	require.NoError(t, err)
	s := NewKeyStore()
	require.NoError(t, s.SetPassword("correct horse battery staple", salt))
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := newKeyedStore(t)
	sealed, err := s.Encrypt([]byte("hello world"), nil)
	require.NoError(t, err)

	plain, err := s.Decrypt(sealed, nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(plain))
}

func TestEncryptWithoutKeySetFails(t *testing.T) {
	s := NewKeyStore()
	_, err := s.Encrypt([]byte("data"), nil)
	require.ErrorIs(t, err, errNoMasterKey)
}

func TestDecryptWrongAssociatedDataFails(t *testing.T) {
	s := newKeyedStore(t)
	sealed, err := s.Encrypt([]byte("data"), []byte("label-a"))
	require.NoError(t, err)

	_, err = s.Decrypt(sealed, []byte("label-b"))
	require.Error(t, err)
}

func TestDecryptCorruptedDataFails(t *testing.T) {
	s := newKeyedStore(t)
	_, err := s.Decrypt("not-valid-base64!!!", nil)
	require.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	s := newKeyedStore(t)
	envelope, err := s.EncryptEnvelope([]byte(`{"role":"user"}`), []byte("conversation"))
	require.NoError(t, err)
	require.True(t, IsEnvelope(envelope))

	plain, err := s.DecryptEnvelope(envelope, []byte("conversation"))
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user"}`, string(plain))
}

func TestDecryptEnvelopeRejectsPlaintext(t *testing.T) {
	s := newKeyedStore(t)
	_, err := s.DecryptEnvelope(`{"role":"user"}`, nil)
	require.Error(t, err)
}

func TestClearWipesKey(t *testing.T) {
	s := newKeyedStore(t)
	require.True(t, s.HasKey())
	s.Clear()
	require.False(t, s.HasKey())

	_, err := s.Encrypt([]byte("x"), nil)
	require.ErrorIs(t, err, errNoMasterKey)
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash := HashPassword("swordfish")
	require.True(t, VerifyPassword("swordfish", hash))
	require.False(t, VerifyPassword("wrong", hash))
}

func TestHashTokenIsDeterministic(t *testing.T) {
	require.Equal(t, HashToken("token-123"), HashToken("token-123"))
	require.NotEqual(t, HashToken("token-123"), HashToken("token-456"))
}

func TestNewSaltReturnsDistinctSalts(t *testing.T) {
	salt1, _ := NewSalt()
	salt2, _ := NewSalt()
	require.NotEqual(t, salt1, salt2)
}
