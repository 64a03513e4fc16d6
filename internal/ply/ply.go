// Package ply writes meshes in the ASCII PLY format.
package ply

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dreamware/halomesh/internal/geom"
)

// Write emits tris as an indexed ASCII PLY mesh. Shared corners become a
// single vertex; vertices appear in first-use order.
func Write(w io.Writer, tris []geom.Triangle) error {
	index := make(map[geom.Point]int)
	var verts []geom.Point
	faces := make([][3]int, len(tris))
	for i, t := range tris {
		for k, p := range [3]geom.Point{t.A, t.B, t.C} {
			id, ok := index[p]
			if !ok {
				id = len(verts)
				index[p] = id
				verts = append(verts, p)
			}
			faces[i][k] = id
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "ply")
	fmt.Fprintln(bw, "format ascii 1.0")
	fmt.Fprintln(bw, "comment halomesh")
	fmt.Fprintf(bw, "element vertex %d\n", len(verts))
	fmt.Fprintln(bw, "property double x")
	fmt.Fprintln(bw, "property double y")
	fmt.Fprintln(bw, "property double z")
	fmt.Fprintf(bw, "element face %d\n", len(faces))
	fmt.Fprintln(bw, "property list uchar int vertex_indices")
	fmt.Fprintln(bw, "end_header")
	for _, p := range verts {
		bw.WriteString(strconv.FormatFloat(p.X, 'g', -1, 64))
		bw.WriteByte(' ')
		bw.WriteString(strconv.FormatFloat(p.Y, 'g', -1, 64))
		bw.WriteString(" 0\n")
	}
	for _, f := range faces {
		fmt.Fprintf(bw, "3 %d %d %d\n", f[0], f[1], f[2])
	}
	return bw.Flush()
}

// WriteFile writes tris to path, replacing any existing file.
func WriteFile(path string, tris []geom.Triangle) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ply: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("ply: %w", cerr)
		}
	}()
	return Write(f, tris)
}
