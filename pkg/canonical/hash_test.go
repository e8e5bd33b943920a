package canonical_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

func TestSHA256_KnownVectors(t *testing.T) {
	empty, err := canonical.SHA256.Sum(nil)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty)

	abc, err := canonical.HashString(nil, "abc")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", abc)
	assert.Len(t, abc, 64)
}

func TestHashValue_UsesCanonicalForm(t *testing.T) {
	a := canonical.Object(canonical.M("x", canonical.Int(1)), canonical.M("y", canonical.Int(2)))
	b := canonical.Object(canonical.M("y", canonical.Int(2)), canonical.M("x", canonical.Int(1)))

	ha, err := canonical.HashValue(canonical.SHA256, a)
	require.NoError(t, err)
	hb, err := canonical.HashValue(canonical.SHA256, b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	direct, err := canonical.HashString(canonical.SHA256, `{"x":1,"y":2}`)
	require.NoError(t, err)
	assert.Equal(t, direct, ha)
}

func TestHashValue_PropagatesFailure(t *testing.T) {
	broken := canonical.HasherFunc(func([]byte) (string, error) {
		return "", canonical.ErrHashUnavailable
	})

	_, err := canonical.HashValue(broken, canonical.Null())
	require.Error(t, err)
	assert.True(t, errors.Is(err, canonical.ErrHashUnavailable))
}
