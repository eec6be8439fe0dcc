package runtoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndParse(t *testing.T) {
	issuer := NewIssuer("s3cret")

	token, err := issuer.Mint(12, "run-abc")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(12), claims.RepoID)
	assert.Equal(t, "run-abc", claims.RunID())
}

func TestParseRejectsForeignSecret(t *testing.T) {
	token, err := NewIssuer("one").Mint(1, "run")
	require.NoError(t, err)

	_, err = NewIssuer("two").Parse(token)
	assert.Error(t, err)
}

func TestNilIssuer(t *testing.T) {
	issuer := NewIssuer("")
	assert.Nil(t, issuer)

	token, err := issuer.Mint(1, "run")
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = issuer.Parse("anything")
	assert.Error(t, err)
}
