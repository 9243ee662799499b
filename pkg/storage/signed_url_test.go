package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("thesis-12", "theses/12/dspace_metadata.json")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	scope, key, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "thesis-12", scope)
	require.Equal(t, "theses/12/dspace_metadata.json", key)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	frozen := time.Date(2021, 12, 25, 10, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return frozen }
	token, _, err := signer.Generate("thesis-12", "theses/12/a.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	scope, key, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "thesis-12", scope)
	require.Equal(t, "theses/12/a.pdf", key)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("thesis-12", "theses/12/a.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "thesis-13"
	_, _, _, err = signer.Parse(strings.Join(parts, "."), false)
	require.Error(t, err)

	other := NewSignedURLSigner("other", time.Hour)
	_, _, _, err = other.Parse(token, false)
	require.Error(t, err)
}

func TestSignedURLSignerURL(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	url, _, err := signer.URL("https://etd.example.edu/api/v1/", "thesis-1", "theses/1/a.pdf")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://etd.example.edu/api/v1/files/thesis-1."))
}
