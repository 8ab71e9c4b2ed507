package blueprint

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"reelforge.design/reelforge/canon"
)

type (
	flatProducer struct {
		alias   string
		decl    ProducerDecl
		loops   []string // namespaced loop dimension names, outer to inner
	}

	flatArtefact struct {
		producerAlias string
		decl          ArtefactDecl
	}

	flatEdge struct {
		from      string // "Input:<qualified>" or "<ProducerAlias>.<Output>"
		toAlias   string
		condition *ConditionDecl
	}

	flatLoop struct {
		alias      string
		parent     string
		countInput string
	}

	flattened struct {
		producers map[string]flatProducer
		artefacts map[string]flatArtefact
		edges     []flatEdge
		loops     map[string]flatLoop
		inputs    map[string]InputDecl
	}
)

// Expand flattens tree (namespacing nested children), decomposes
// array-typed artifacts, expands loop dimensions using resolvedInputs, and
// resolves edges into a flat canonical producer graph (spec.md §4.3).
// resolvedInputs maps canonical Input: IDs to already-resolved scalar
// values (as produced by the planning service's input resolution step);
// loop and array counts are read from it.
func Expand(tree *Document, resolvedInputs map[string]any) (*Graph, error) {
	if tree == nil {
		return nil, fmt.Errorf("blueprint: tree is required")
	}

	flat := &flattened{
		producers: make(map[string]flatProducer),
		artefacts: make(map[string]flatArtefact),
		loops:     make(map[string]flatLoop),
		inputs:    make(map[string]InputDecl),
	}
	if err := flattenDoc(tree, "", flat); err != nil {
		return nil, err
	}

	if err := detectCycles(flat); err != nil {
		return nil, err
	}

	g := &Graph{
		Jobs:       make(map[string]*Job),
		ProducerOf: make(map[string]string),
	}

	// Deterministic iteration order over producer aliases for stable test
	// output and layering.
	aliases := make([]string, 0, len(flat.producers))
	for alias := range flat.producers {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		p := flat.producers[alias]
		sizes, err := loopSizes(flat, p.loops, resolvedInputs)
		if err != nil {
			return nil, err
		}
		for _, indices := range cartesian(sizes) {
			job, err := buildJob(flat, p, indices, resolvedInputs)
			if err != nil {
				return nil, err
			}
			g.Jobs[job.ID] = job
			g.JobOrder = append(g.JobOrder, job.ID)
			for _, artifactID := range job.Produces {
				g.ProducerOf[artifactID] = job.ID
			}
		}
	}

	g.MissingVariables = missingVariables(flat, resolvedInputs)

	return g, nil
}

// missingVariables returns every declared Input: ID with no Default whose
// canonical ID does not appear in resolvedInputs, sorted for deterministic
// output. spec.md §9: a missing declared variable warns, it never fails
// expansion.
func missingVariables(flat *flattened, resolvedInputs map[string]any) []string {
	var missing []string
	for id, decl := range flat.inputs {
		if decl.Default != nil {
			continue
		}
		if _, ok := resolvedInputs[id]; ok {
			continue
		}
		missing = append(missing, id)
	}
	sort.Strings(missing)
	return missing
}

// flattenDoc recursively merges doc and its children into flat, namespacing
// every name declared in a child document under "<prefix>.<name>".
func flattenDoc(doc *Document, prefix string, flat *flattened) error {
	qualify := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	qualifyRef := func(ref string) string {
		if strings.HasPrefix(ref, canon.InputPrefix) {
			return canon.InputPrefix + qualify(strings.TrimPrefix(ref, canon.InputPrefix))
		}
		return qualify(ref)
	}

	for _, in := range doc.Inputs {
		flat.inputs[canon.InputPrefix+qualify(in.Name)] = in
	}

	for _, p := range doc.Producers {
		alias := qualify(p.Name)
		loops := make([]string, len(p.Loops))
		for i, l := range p.Loops {
			loops[i] = qualify(l)
		}
		flat.producers[alias] = flatProducer{alias: alias, decl: p, loops: loops}
	}

	for _, a := range doc.Artefacts {
		producerAlias := qualify(a.Producer)
		key := producerAlias + "." + a.Name
		ac := a
		ac.Producer = producerAlias
		flat.artefacts[key] = flatArtefact{producerAlias: producerAlias, decl: ac}
	}

	for _, l := range doc.Loops {
		lc := flatLoop{alias: qualify(l.Name), countInput: qualify(l.CountInput)}
		if l.Parent != "" {
			lc.parent = qualify(l.Parent)
		}
		flat.loops[lc.alias] = lc
	}

	for _, e := range doc.Edges {
		flat.edges = append(flat.edges, flatEdge{
			from:      qualifyRef(e.From),
			toAlias:   qualify(e.To),
			condition: e.Condition,
		})
	}

	for _, child := range doc.Children {
		childPrefix := child.Name
		if prefix != "" {
			childPrefix = prefix + "." + child.Name
		}
		if err := flattenDoc(child, childPrefix, flat); err != nil {
			return err
		}
	}
	return nil
}

// detectCycles rejects a producer-level dependency graph with a cycle,
// before any loop expansion: an edge from an artifact of producer A to
// producer B means B depends on A.
func detectCycles(flat *flattened) error {
	deps := make(map[string]map[string]struct{}, len(flat.producers))
	for alias := range flat.producers {
		deps[alias] = make(map[string]struct{})
	}
	for _, e := range flat.edges {
		producerAlias, ok := producerAliasForRef(flat, e.from)
		if !ok {
			continue // input refs have no producer dependency
		}
		if _, ok := deps[e.toAlias]; ok {
			deps[e.toAlias][producerAlias] = struct{}{}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var visit func(n string) error
	visit = func(n string) error {
		switch color[n] {
		case gray:
			return fmt.Errorf("%w: producer %q", ErrCycle, n)
		case black:
			return nil
		}
		color[n] = gray
		for dep := range deps[n] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}
	for alias := range deps {
		if err := visit(alias); err != nil {
			return err
		}
	}
	return nil
}

func producerAliasForRef(flat *flattened, ref string) (string, bool) {
	if strings.HasPrefix(ref, canon.InputPrefix) {
		return "", false
	}
	if af, ok := flat.artefacts[ref]; ok {
		return af.producerAlias, true
	}
	// ref may directly name a producer alias (all of its outputs).
	if _, ok := flat.producers[ref]; ok {
		return ref, true
	}
	return "", false
}

// loopSizes resolves the concrete sizes, outer to inner, of a producer's
// enclosing loop dimensions from resolvedInputs. Nested (parent-having)
// loops are treated as having a fixed size looked up once from their own
// count-input, independent of the parent index; a count that varies per
// parent index is not supported.
func loopSizes(flat *flattened, loopAliases []string, resolvedInputs map[string]any) ([]int, error) {
	sizes := make([]int, len(loopAliases))
	for i, alias := range loopAliases {
		l, ok := flat.loops[alias]
		if !ok {
			return nil, fmt.Errorf("blueprint: producer references undeclared loop %q", alias)
		}
		v, ok := resolvedInputs[l.countInput]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCountInput, l.countInput)
		}
		n, err := toNonNegativeInt(v)
		if err != nil {
			return nil, fmt.Errorf("blueprint: loop %q count input %s: %w", alias, l.countInput, err)
		}
		sizes[i] = n
	}
	return sizes, nil
}

func toNonNegativeInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		if t < 0 {
			return 0, fmt.Errorf("negative count %d", t)
		}
		return t, nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("negative count %d", t)
		}
		return int(t), nil
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("negative count %v", t)
		}
		return int(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return toNonNegativeInt(f)
	default:
		return 0, fmt.Errorf("count value %v is not numeric", v)
	}
}

// cartesian returns every tuple of indices for the given dimension sizes,
// in row-major (outermost-slowest) order. A zero-length sizes returns a
// single empty tuple.
func cartesian(sizes []int) [][]int {
	if len(sizes) == 0 {
		return [][]int{{}}
	}
	result := [][]int{{}}
	for _, size := range sizes {
		var next [][]int
		for _, prefix := range result {
			for i := 0; i < size; i++ {
				tuple := append(append([]int{}, prefix...), i)
				next = append(next, tuple)
			}
		}
		result = next
	}
	return result
}

// buildJob constructs the Job for producer p at the given loop indices,
// resolving its declared outputs (including array-decomposed virtual
// sub-artifacts) and its resolved inputs from matching edges.
func buildJob(flat *flattened, p flatProducer, indices []int, resolvedInputs map[string]any) (*Job, error) {
	jobID := canon.ProducerID(p.alias) + indexSuffix(indices)

	produces, err := resolveOutputs(flat, p, indices)
	if err != nil {
		return nil, err
	}

	inputs, err := resolveJobInputs(flat, p, indices, resolvedInputs)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:            jobID,
		ProducerAlias: p.alias,
		Indices:       indices,
		Models:        p.decl.Models,
		Inputs:        inputs,
		Produces:      produces,
	}, nil
}

func indexSuffix(indices []int) string {
	var b strings.Builder
	for _, i := range indices {
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(']')
	}
	return b.String()
}

// resolveOutputs returns every canonical Artifact: ID this job produces,
// including one per declared array decomposition path once the producer's
// OutputSchema has been validated as well-formed JSON Schema.
func resolveOutputs(flat *flattened, p flatProducer, indices []int) ([]string, error) {
	var produces []string
	for _, outputName := range p.decl.Outputs {
		key := p.alias + "." + outputName
		produces = append(produces, canon.ArtifactID(p.alias, outputName, "", indices))

		af, ok := flat.artefacts[key]
		if !ok || len(af.decl.Arrays) == 0 {
			continue
		}
		if err := validateOutputSchema(p.decl.OutputSchema); err != nil {
			return nil, err
		}
		for _, arr := range af.decl.Arrays {
			subPath := strings.ReplaceAll(strings.Trim(arr.Path, "/"), "/", ".")
			produces = append(produces, canon.ArtifactID(p.alias, outputName, subPath, indices))
		}
	}
	return produces, nil
}

// validateOutputSchema compiles schema as JSON Schema, returning
// ErrInvalidOutputSchema if it is malformed. An empty schema is permitted:
// array decomposition can be declared structurally before the provider's
// schema is finalized.
func validateOutputSchema(schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutputSchema, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutputSchema, err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutputSchema, err)
	}
	return nil
}

// resolveJobInputs resolves every edge targeting p into a canonical input
// ID for this job's loop indices, skipping edges whose condition evaluates
// false.
func resolveJobInputs(flat *flattened, p flatProducer, indices []int, resolvedInputs map[string]any) ([]string, error) {
	var inputs []string
	seen := make(map[string]struct{})
	for _, e := range flat.edges {
		if e.toAlias != p.alias {
			continue
		}
		if e.condition != nil {
			ok, err := evalCondition(*e.condition, indices, resolvedInputs)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		id, err := resolveEdgeSource(flat, e.from, indices)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		inputs = append(inputs, id)
	}
	return inputs, nil
}

// resolveEdgeSource resolves an edge's From reference to a concrete
// canonical ID for the consuming job's loop indices. Input references
// append the consuming job's full index suffix (an input declared inside
// the same loop scope is indexed identically to its consumer); artifact
// references are resolved against the producing job's own declared loop
// depth, using the leading indices shared with the consumer.
func resolveEdgeSource(flat *flattened, from string, consumerIndices []int) (string, error) {
	if strings.HasPrefix(from, canon.InputPrefix) {
		name := strings.TrimPrefix(from, canon.InputPrefix)
		return canon.InputPrefix + name + indexSuffix(consumerIndices), nil
	}

	af, ok := flat.artefacts[from]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedEdge, from)
	}
	producer := flat.producers[af.producerAlias]
	depth := len(producer.loops)
	if depth > len(consumerIndices) {
		depth = len(consumerIndices)
	}
	return canon.ArtifactID(af.producerAlias, af.decl.Name, "", consumerIndices[:depth]), nil
}

// evalCondition substitutes "{i}", "{j}", ... placeholders in cond's
// InputPath (one per consumerIndices entry, outermost first) and compares
// the resolved input's value against cond.Equals.
func evalCondition(cond ConditionDecl, consumerIndices []int, resolvedInputs map[string]any) (bool, error) {
	path := cond.InputPath
	for _, idx := range consumerIndices {
		if pos := strings.IndexAny(path, "{"); pos >= 0 && strings.Contains(path[pos:], "}") {
			end := strings.Index(path[pos:], "}") + pos
			path = path[:pos] + strconv.Itoa(idx) + path[end+1:]
		}
	}
	v, ok := resolvedInputs[path]
	if !ok {
		return false, fmt.Errorf("%w: condition input %s", ErrUnresolvedEdge, path)
	}
	return fmt.Sprint(v) == fmt.Sprint(cond.Equals), nil
}
