package dag

import (
	"fmt"
	"io"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// WriteDot emits a GraphViz definition of the graph, edges pointing from a task to its dependencies.
func (g *Graph) WriteDot(w io.Writer) error {
	if _, err := io.WriteString(w, "digraph {\n"); err != nil {
		return errors.New(err)
	}

	for _, name := range g.AllTasks() {
		if _, err := fmt.Fprintf(w, "\t%q ;\n", name); err != nil {
			return errors.New(err)
		}

		for _, dep := range g.DependenciesOf(name) {
			if _, err := fmt.Fprintf(w, "\t%q -> %q;\n", name, dep); err != nil {
				return errors.New(err)
			}
		}
	}

	if _, err := io.WriteString(w, "}\n"); err != nil {
		return errors.New(err)
	}

	return nil
}
