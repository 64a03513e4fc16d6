// Package wire serialises halo fragments for transport between workers.
//
// A fragment is the set of points a tile sends for one region, plus the region
// itself. The binary layout is
//
//	magic   2 bytes  "HM"
//	version 1 byte
//	flags   1 byte   bit 0: body is zstd compressed
//	body:
//	  region  4 x float64 little-endian (min_x, min_y, max_x, max_y)
//	  count   uvarint
//	  points  count x (float64 x, float64 y) little-endian
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-varint"

	"github.com/dreamware/halomesh/internal/geom"
)

const (
	magic0  = 'H'
	magic1  = 'M'
	version = 1

	flagZstd = 1 << 0

	headerSize = 4
	regionSize = 4 * 8
	pointSize  = 2 * 8
)

// ErrMalformed is returned for payloads that do not decode.
var ErrMalformed = errors.New("wire: malformed fragment")

// Fragment is the unit of halo exchange.
type Fragment struct {
	Region geom.BBox
	Points []geom.Point
}

// Codec turns fragments into bytes and back.
type Codec interface {
	Encode(f Fragment) ([]byte, error)
	Decode(b []byte) (Fragment, error)
}

// Binary is the default Codec. It is safe for concurrent use.
type Binary struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// Option configures a Binary codec.
type Option func(*Binary)

// WithCompression toggles zstd compression of encoded bodies. Decoding always
// accepts both forms.
func WithCompression(on bool) Option {
	return func(b *Binary) { b.compress = on }
}

// NewBinary builds a codec.
func NewBinary(opts ...Option) (*Binary, error) {
	c := &Binary{}
	for _, o := range opts {
		o(c)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: zstd reader: %w", err)
	}
	c.dec = dec
	if c.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("wire: zstd writer: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

var _ Codec = (*Binary)(nil)

// Close releases the zstd state.
func (c *Binary) Close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	c.dec.Close()
}

func (c *Binary) Encode(f Fragment) ([]byte, error) {
	count := varint.ToUvarint(uint64(len(f.Points)))
	body := make([]byte, 0, regionSize+len(count)+pointSize*len(f.Points))
	body = appendFloat(body, f.Region.MinX)
	body = appendFloat(body, f.Region.MinY)
	body = appendFloat(body, f.Region.MaxX)
	body = appendFloat(body, f.Region.MaxY)
	body = append(body, count...)
	for _, p := range f.Points {
		body = appendFloat(body, p.X)
		body = appendFloat(body, p.Y)
	}

	var flags byte
	if c.compress {
		flags |= flagZstd
		body = c.enc.EncodeAll(body, nil)
	}
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic0, magic1, version, flags)
	return append(out, body...), nil
}

func (c *Binary) Decode(b []byte) (Fragment, error) {
	if len(b) < headerSize || b[0] != magic0 || b[1] != magic1 {
		return Fragment{}, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	if b[2] != version {
		return Fragment{}, fmt.Errorf("%w: version %d", ErrMalformed, b[2])
	}
	flags, body := b[3], b[headerSize:]
	if flags&flagZstd != 0 {
		var err error
		body, err = c.dec.DecodeAll(body, nil)
		if err != nil {
			return Fragment{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if len(body) < regionSize {
		return Fragment{}, fmt.Errorf("%w: short region", ErrMalformed)
	}
	var f Fragment
	f.Region = geom.Box(readFloat(body[0:]), readFloat(body[8:]), readFloat(body[16:]), readFloat(body[24:]))
	body = body[regionSize:]

	n, used, err := varint.FromUvarint(body)
	if err != nil {
		return Fragment{}, fmt.Errorf("%w: count: %v", ErrMalformed, err)
	}
	body = body[used:]
	if uint64(len(body)) != n*pointSize || n > uint64(len(body)) {
		return Fragment{}, fmt.Errorf("%w: %d points in %d bytes", ErrMalformed, n, len(body))
	}
	if n > 0 {
		f.Points = make([]geom.Point, n)
		for i := range f.Points {
			off := i * pointSize
			f.Points[i] = geom.Point{X: readFloat(body[off:]), Y: readFloat(body[off+8:])}
		}
	}
	return f, nil
}

func appendFloat(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

func readFloat(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
