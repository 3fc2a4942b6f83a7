package project

// Group is a run of projects sharing a type.
type Group struct {
	Type     Type
	Projects []Project
}

// GroupByType buckets projects by type. Groups appear in the order their type
// is first seen in projects, and each group keeps the input order.
func GroupByType(projects []Project) []Group {
	var groups []Group
	index := make(map[Type]int)
	for _, p := range projects {
		t := p.Type
		if t == "" {
			t = TypeProject
		}
		i, ok := index[t]
		if !ok {
			i = len(groups)
			index[t] = i
			groups = append(groups, Group{Type: t})
		}
		groups[i].Projects = append(groups[i].Projects, p)
	}
	return groups
}
