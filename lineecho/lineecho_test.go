package lineecho

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineEnd(t *testing.T) {
	assert.False(t, LineEnd(nil))
	assert.False(t, LineEnd([]byte("partial")))
	assert.True(t, LineEnd([]byte("done\n")))
	assert.True(t, LineEnd([]byte("a\nb")))
}

func TestEchoResponder(t *testing.T) {
	var out bytes.Buffer
	r := NewResponder()
	require.NoError(t, r.Respond(&out, []byte("hello\n")))
	require.NoError(t, r.Respond(&out, []byte("again\n")))
	assert.Equal(t, "hello\nagain\n", out.String())
}

func TestSequenceIsPerResponder(t *testing.T) {
	factory := Factory(WithSequence())
	a, b := factory(), factory()

	var out bytes.Buffer
	require.NoError(t, a.Respond(&out, []byte("x\n")))
	require.NoError(t, a.Respond(&out, []byte("y\n")))
	require.NoError(t, b.Respond(&out, []byte("z\n")))
	assert.Equal(t, "1-reply x\n2-reply y\n1-reply z\n", out.String())
}
