// Command meshgen builds refined 2-D triangle meshes by splitting the domain
// into tiles that exchange halo points with their neighbours.
//
//	meshgen run -c mesh.yaml          mesh in one process
//	meshgen plan --workers 6          show the tile grid and the phase table
//	meshgen submit --coordinator URL  start a run on a cluster
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
