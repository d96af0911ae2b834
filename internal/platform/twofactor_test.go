package platform

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthCodeShapeAndRotation(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdefghij"))
	t0 := time.Unix(1_700_000_010, 0)

	code, err := AuthCode(secret, t0)
	require.NoError(t, err)
	assert.Len(t, code, codeLength)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected rune %q", r)
	}

	same, err := AuthCode(secret, t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, code, same, "codes are stable within one 30s window")

	windows := map[string]bool{code: true}
	for i := 1; i <= 5; i++ {
		next, err := AuthCode(secret, t0.Add(time.Duration(i)*30*time.Second))
		require.NoError(t, err)
		windows[next] = true
	}
	assert.Greater(t, len(windows), 1, "codes rotate across windows")
}

func TestAuthCodeRejectsBadSecret(t *testing.T) {
	_, err := AuthCode("%%%", time.Now())
	assert.Error(t, err)
}
