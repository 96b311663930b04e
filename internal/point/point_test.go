package point

import (
	"testing"

	"github.com/oocpc/engine/pkg/occerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllLayouts(t *testing.T) {
	p := Point{
		X: 1.5, Y: -2.25, Z: 3.0,
		NX: 0.1, NY: 0.2, NZ: 0.3,
		R: 0.4, G: 0.5, B: 0.6,
	}

	layouts := []Layout{LayoutPos, LayoutPosNormal, LayoutPosNormalColor}
	for _, l := range layouts {
		t.Run(l.String(), func(t *testing.T) {
			buf := l.Write(nil, p)
			assert.Len(t, buf, l.SerializedSize())

			got, n, err := l.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, l.SerializedSize(), n)

			assert.Equal(t, p.X, got.X)
			assert.Equal(t, p.Y, got.Y)
			assert.Equal(t, p.Z, got.Z)

			if l.HasNormal() {
				assert.Equal(t, p.NX, got.NX)
				assert.Equal(t, p.NY, got.NY)
				assert.Equal(t, p.NZ, got.NZ)
			} else {
				assert.Zero(t, got.NX)
				assert.Zero(t, got.NY)
				assert.Zero(t, got.NZ)
			}

			if l.HasColor() {
				assert.Equal(t, p.R, got.R)
				assert.Equal(t, p.G, got.G)
				assert.Equal(t, p.B, got.B)
			} else {
				assert.Zero(t, got.R)
				assert.Zero(t, got.G)
				assert.Zero(t, got.B)
			}
		})
	}
}

func TestSerializedSize(t *testing.T) {
	assert.Equal(t, 12, LayoutPos.SerializedSize())
	assert.Equal(t, 24, LayoutPosNormal.SerializedSize())
	assert.Equal(t, 36, LayoutPosNormalColor.SerializedSize())
}

func TestReadShortBuffer(t *testing.T) {
	_, _, err := LayoutPosNormalColor.Read(make([]byte, 10))
	require.Error(t, err)
	assert.Equal(t, occerr.CodeCorruptInput, occerr.CodeOf(err))
}

func TestLayoutCodeRoundTrip(t *testing.T) {
	for _, l := range []Layout{LayoutPos, LayoutPosNormal, LayoutPosNormalColor} {
		assert.Equal(t, l, LayoutFromCode(l.Code()))
	}
}

func TestCheckLayoutMismatch(t *testing.T) {
	err := CheckLayout(LayoutPos, AttrNormal)
	require.Error(t, err)
	assert.Equal(t, occerr.CodeAttributeMismatch, occerr.CodeOf(err))

	assert.NoError(t, CheckLayout(LayoutPosNormal, AttrNormal))
}

func TestWriteAppendsToExistingBuffer(t *testing.T) {
	prefix := []byte{0xAA, 0xBB}
	buf := LayoutPos.Write(prefix, Point{X: 1, Y: 2, Z: 3})
	assert.Equal(t, byte(0xAA), buf[0])
	assert.Equal(t, byte(0xBB), buf[1])
	assert.Len(t, buf, 2+LayoutPos.SerializedSize())
}
