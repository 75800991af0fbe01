package worker

import (
	"fmt"
	"os"

	"github.com/buger/goterm"
)

// dumpChildren renders the handler pool as a table, the operator view the
// worker prints on demand.
func (s *Supervisor) dumpChildren() {
	table := goterm.NewTable(0, 10, 5, ' ', 0)
	fmt.Fprintf(table, "PID\tIndex\tStatus\tTemporary\n")
	for _, c := range s.children {
		if c == nil {
			continue
		}
		fmt.Fprintf(table, "%v\t%v\t%v\t%v\n", c.pid, c.index, c.status, c.timer != nil)
	}
	fmt.Fprintln(os.Stdout, goterm.Color("Handler pool:", goterm.CYAN))
	fmt.Fprintln(os.Stdout, table.String())
}
