package balancer

import (
	"fmt"
	"os"

	"github.com/buger/goterm"
)

// dumpWorkers renders the worker pool as a table whenever membership
// changes, the operator view of the dispatcher's world.
func (b *T) dumpWorkers() {
	table := goterm.NewTable(0, 10, 5, ' ', 0)
	fmt.Fprintf(table, "ID\tServer\tPort\tMax Load\tCurrent Load\n")
	for _, id := range b.workerIDs() {
		w := b.workers[id]
		fmt.Fprintf(table, "%v\t%v\t%v\t%v\t%v\n", w.id, w.addr, w.port, w.maxLoad, w.curLoad)
	}
	fmt.Fprintln(os.Stdout, goterm.Color("Worker pool:", goterm.CYAN))
	fmt.Fprintln(os.Stdout, table.String())
}
