package blueprint

// Job is one concrete instantiation of a producer at a specific tuple of
// loop indices: the unit of scheduling (spec.md glossary).
type Job struct {
	// ID is the canonical Producer: ID, including loop indices.
	ID string
	// ProducerAlias is the flattened, namespaced producer name without
	// loop indices (e.g. "Scenes.Render").
	ProducerAlias string
	// Indices are this job's concrete loop indices, outermost first.
	Indices []int
	// Models are the provider+model variants this job may run under; the
	// planner/runner picks one (typically the first, or per policy).
	Models []ModelVariant
	// Inputs lists every canonical ID (Input: or Artifact:) this job
	// consumes, in declaration order.
	Inputs []string
	// Produces lists every canonical Artifact: ID this job produces,
	// including decomposed virtual sub-artifacts.
	Produces []string
}

// Graph is the flat, canonical producer graph produced by Expand: nodes are
// Jobs, edges are implicit in each Job's Inputs/Produces (an edge exists
// from the job producing X to every job whose Inputs contains X).
type Graph struct {
	// Jobs maps a job's canonical ID to the job.
	Jobs map[string]*Job
	// JobOrder preserves a deterministic expansion order for jobs sharing
	// no dependency relationship, which keeps layering and test output
	// stable.
	JobOrder []string
	// ProducerOf maps a canonical Artifact: ID to the ID of the Job that
	// produces it.
	ProducerOf map[string]string
	// MissingVariables lists every declared Input: ID (from an InputDecl
	// with no Default) that resolvedInputs did not supply at expansion
	// time. spec.md §9 preserves the source's lenient behavior here: a
	// missing declared variable is a warning a caller may log, never an
	// expansion error.
	MissingVariables []string
}

// UpstreamOf returns the canonical IDs of jobs this job's resolved inputs
// depend on, i.e. every distinct job ID in g.ProducerOf for an artifact
// input of job j.
func (g *Graph) UpstreamOf(jobID string) []string {
	j, ok := g.Jobs[jobID]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var upstream []string
	for _, in := range j.Inputs {
		producer, ok := g.ProducerOf[in]
		if !ok || producer == jobID {
			continue
		}
		if _, dup := seen[producer]; dup {
			continue
		}
		seen[producer] = struct{}{}
		upstream = append(upstream, producer)
	}
	return upstream
}

// Downstream returns every job ID that directly consumes an artifact
// produced by jobID.
func (g *Graph) Downstream(jobID string) []string {
	j, ok := g.Jobs[jobID]
	if !ok {
		return nil
	}
	produced := make(map[string]struct{}, len(j.Produces))
	for _, a := range j.Produces {
		produced[a] = struct{}{}
	}
	seen := make(map[string]struct{})
	var downstream []string
	for _, id := range g.JobOrder {
		other := g.Jobs[id]
		if other.ID == jobID {
			continue
		}
		for _, in := range other.Inputs {
			if _, ok := produced[in]; ok {
				if _, dup := seen[other.ID]; !dup {
					seen[other.ID] = struct{}{}
					downstream = append(downstream, other.ID)
				}
				break
			}
		}
	}
	return downstream
}
