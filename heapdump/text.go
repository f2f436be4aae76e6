package heapdump

import (
	"bufio"
	"fmt"
	"io"
)

// WriteText writes d in a line format: each root edge, then each node
// followed by its edges, one per line prefixed with '>'.
func WriteText(w io.Writer, d *Dump) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# dump %s\n", d.ID)
	fmt.Fprintln(bw, "# roots")
	for _, e := range d.Roots {
		fmt.Fprintf(bw, "%#x %s\n", e.Target, e.Name)
	}
	fmt.Fprintln(bw, "# heap")
	for _, n := range d.Nodes {
		if n.Class != "" {
			fmt.Fprintf(bw, "%#x %s %s [%s]\n", n.Ref, n.Kind, n.Class, n.Compartment)
		} else {
			fmt.Fprintf(bw, "%#x %s [%s]\n", n.Ref, n.Kind, n.Compartment)
		}
		for _, e := range n.Edges {
			fmt.Fprintf(bw, "> %#x %s\n", e.Target, e.Name)
		}
	}
	return bw.Flush()
}
