package client

import (
	"fmt"
	"os"

	"github.com/buger/goterm"
)

// printSummary reports the run the way an operator wants to read it: how
// many clients ran, how often the cache answered, how long it all took.
func (m *Manager) printSummary() {
	m.mtx.Lock()
	hits := m.hits
	m.mtx.Unlock()

	table := goterm.NewTable(0, 10, 5, ' ', 0)
	fmt.Fprintf(table, "Clients\tCache Hits\tHit Rate\tElapsed\n")
	fmt.Fprintf(table, "%v\t%v\t%.2f\t%v\n",
		m.options.Clients, hits, m.HitRate(), m.elapsed)
	fmt.Fprintln(os.Stdout, goterm.Color("Load generator summary:", goterm.GREEN))
	fmt.Fprintln(os.Stdout, table.String())
}
