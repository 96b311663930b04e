package rpcmsg

import (
	"testing"

	"github.com/oocpc/engine/internal/frustum"
	"github.com/stretchr/testify/require"
)

func TestGobCodecRoundTripsViewState(t *testing.T) {
	c := gobCodec{}
	in := ViewState{
		ViewProj:       frustum.Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1},
		Tau:            0.5,
		DeadlineMillis: 16,
	}

	data, err := c.Marshal(&in)
	require.NoError(t, err)

	var out ViewState
	require.NoError(t, c.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestGobCodecRoundTripsDrawBatch(t *testing.T) {
	c := gobCodec{}
	in := DrawBatch{
		Points: []DrawPoint{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}},
		Final:  true,
	}

	data, err := c.Marshal(&in)
	require.NoError(t, err)

	var out DrawBatch
	require.NoError(t, c.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestCodecNameMatchesRegistration(t *testing.T) {
	require.Equal(t, "gob", CodecName)
	require.Equal(t, CodecName, gobCodec{}.Name())
}
