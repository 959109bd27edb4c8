package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("student-1", "0f8fad5b-d9cb-469f-a165-70867728950e")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	subject, contentID, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "student-1", subject)
	require.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", contentID)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", 10*time.Millisecond)
	token, _, err := signer.Generate("student-1", "abc")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, _, err = signer.Parse(token)
	require.Error(t, err)
}

func TestSignedURLSignerRejectsTamperedContent(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("student-1", "abc")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[2] = "other"
	_, _, err = signer.Parse(strings.Join(parts, "."))
	require.Error(t, err)

	_, _, err = NewSignedURLSigner("different", time.Hour).Parse(token)
	require.Error(t, err)
}
