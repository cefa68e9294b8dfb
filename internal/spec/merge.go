package spec

import "fmt"

// Merge combines documents into one. The first document is the base; later
// documents append features and tasks, merge requirements per package, and
// override any project fields they set.
func Merge(docs ...*Document) (*Document, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no specifications to merge")
	}

	merged := &Document{Project: docs[0].Project}
	merged.Project.Requirements = nil
	merged.Features = append(merged.Features, docs[0].Features...)
	merged.Tasks = append(merged.Tasks, docs[0].Tasks...)
	mergeRequirements(merged, docs[0].Project.Requirements)

	for _, doc := range docs[1:] {
		if doc.Project.Name != "" {
			merged.Project.Name = doc.Project.Name
		}
		if doc.Project.TechStack.Backend != "" {
			merged.Project.TechStack.Backend = doc.Project.TechStack.Backend
		}
		if doc.Project.TechStack.Frontend != "" {
			merged.Project.TechStack.Frontend = doc.Project.TechStack.Frontend
		}
		if doc.Project.TechStack.Database != "" {
			merged.Project.TechStack.Database = doc.Project.TechStack.Database
		}
		mergeRequirements(merged, doc.Project.Requirements)
		merged.Features = append(merged.Features, doc.Features...)
		merged.Tasks = append(merged.Tasks, doc.Tasks...)
	}

	return merged, nil
}

// mergeRequirements copies requirement ranges into the merged document so
// source documents stay untouched.
func mergeRequirements(merged *Document, reqs map[string]string) {
	if len(reqs) == 0 {
		return
	}
	if merged.Project.Requirements == nil {
		merged.Project.Requirements = make(map[string]string, len(reqs))
	}
	for pkg, rng := range reqs {
		merged.Project.Requirements[pkg] = rng
	}
}
