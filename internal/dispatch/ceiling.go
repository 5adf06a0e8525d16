package dispatch

import (
	"gonum.org/v1/gonum/graph/simple"
)

// analyzeCeilings builds the task/resource access graph and returns, for every
// resource, the highest priority among the tasks connected to it.
//
// Task i is node i; resources take the ids after the last task.
func analyzeCeilings[M any](tasks []Task[M]) map[ResourceID]Priority {
	g := simple.NewUndirectedGraph()
	nodes := map[ResourceID]int64{}
	next := int64(len(tasks))

	for i, t := range tasks {
		g.AddNode(simple.Node(i))
		for _, r := range t.Resources {
			id, ok := nodes[r]
			if !ok {
				id = next
				next++
				nodes[r] = id
				g.AddNode(simple.Node(id))
			}
			g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(id)))
		}
	}

	ceilings := make(map[ResourceID]Priority, len(nodes))
	for r, id := range nodes {
		var c Priority
		users := g.From(id)
		for users.Next() {
			if p := tasks[users.Node().ID()].Priority; p > c {
				c = p
			}
		}
		ceilings[r] = c
	}
	return ceilings
}
