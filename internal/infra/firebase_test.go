package infra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevVerifier(t *testing.T) {
	tok, err := DevVerifier{}.VerifyIDToken(context.Background(), "courier:c1:Ravi")
	require.NoError(t, err)
	assert.Equal(t, "c1", tok.UID)
	assert.Equal(t, "courier", tok.Role())
	assert.Equal(t, "Ravi", tok.Claim("name"))
	assert.Equal(t, "", tok.Claim("phone_number"))

	for _, bad := range []string{"", "courier", "courier:", ":c1"} {
		_, err := DevVerifier{}.VerifyIDToken(context.Background(), bad)
		assert.ErrorIs(t, err, ErrMalformedDevToken, bad)
	}
}
