package wire

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/halomesh/internal/geom"
)

func newCodec(t *testing.T, compress bool) *Binary {
	t.Helper()
	c, err := NewBinary(WithCompression(compress))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func sample(n int) Fragment {
	rng := rand.New(rand.NewSource(int64(n)))
	f := Fragment{Region: geom.Box(-5, 40, 60, 55.5)}
	for i := 0; i < n; i++ {
		f.Points = append(f.Points, geom.Point{X: rng.Float64()*65 - 5, Y: 40 + rng.Float64()*15.5})
	}
	return f
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
		points   int
	}{
		{"empty", false, 0},
		{"one", false, 1},
		{"many", false, 500},
		{"empty compressed", true, 0},
		{"many compressed", true, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCodec(t, tt.compress)
			in := sample(tt.points)
			b, err := c.Encode(in)
			require.NoError(t, err)

			out, err := c.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, in.Region, out.Region)
			assert.ElementsMatch(t, in.Points, out.Points)
		})
	}
}

func TestRoundTripOrderIndependent(t *testing.T) {
	c := newCodec(t, false)
	in := sample(50)
	rev := Fragment{Region: in.Region}
	for i := len(in.Points) - 1; i >= 0; i-- {
		rev.Points = append(rev.Points, in.Points[i])
	}

	a, err := c.Encode(in)
	require.NoError(t, err)
	b, err := c.Encode(rev)
	require.NoError(t, err)

	fa, err := c.Decode(a)
	require.NoError(t, err)
	fb, err := c.Decode(b)
	require.NoError(t, err)
	assert.ElementsMatch(t, fa.Points, fb.Points)
}

func TestCrossCompressionDecode(t *testing.T) {
	plain := newCodec(t, false)
	packed := newCodec(t, true)
	in := sample(200)

	b, err := packed.Encode(in)
	require.NoError(t, err)
	out, err := plain.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in.Points, out.Points)
}

func TestDecodeMalformed(t *testing.T) {
	c := newCodec(t, false)
	good, err := c.Encode(sample(3))
	require.NoError(t, err)

	badVersion := append([]byte{}, good...)
	badVersion[2] = 9
	badZstd := append([]byte{}, good...)
	badZstd[3] = flagZstd

	tests := []struct {
		name string
		in   []byte
	}{
		{"nil", nil},
		{"bad magic", []byte("XX\x01\x00")},
		{"bad version", badVersion},
		{"truncated region", good[:headerSize+10]},
		{"truncated points", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte{}, good...), 0)},
		{"not zstd", badZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.in)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
