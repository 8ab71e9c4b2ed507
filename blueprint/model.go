// Package blueprint models the declarative producer/artifact/input DAG
// (spec.md §4.3) and expands it, together with resolved input values, into
// a flat canonical producer graph. Parsing a blueprint document from disk
// is an external collaborator's job (spec.md §1); this package starts from
// an already-decoded Document tree.
package blueprint

import "encoding/json"

type (
	// Document is one blueprint document: inputs, artifacts, producers,
	// edges, loops, and inline child blueprints. A tree of Documents is
	// flattened by Expand, with child producer names namespaced
	// "Parent.Child.Producer".
	Document struct {
		// Name identifies this document when it is nested as a child; the
		// root document's Name is ignored.
		Name string `json:"name,omitempty"`

		Inputs    []InputDecl    `json:"inputs,omitempty"`
		Artefacts []ArtefactDecl `json:"artefacts,omitempty"`
		Producers []ProducerDecl `json:"producers,omitempty"`
		Edges     []EdgeDecl     `json:"edges,omitempty"`
		Loops     []LoopDecl     `json:"loops,omitempty"`

		// ProducerImports lists producer aliases imported verbatim from a
		// shared library, without namespacing. Expand does not read this
		// field: imported aliases are not resolved or added to the graph.
		ProducerImports []string `json:"producerImports,omitempty"`

		// Children are inline sub-blueprints merged into the parent under
		// their own Name as a namespace prefix.
		Children []*Document `json:"children,omitempty"`
	}

	// InputDecl declares one named input slot.
	InputDecl struct {
		Name    string `json:"name"`
		Type    string `json:"type,omitempty"`
		Default any    `json:"default,omitempty"`
	}

	// ArrayDecomposition describes how a JSON-typed artifact decomposes
	// into virtual sub-artifacts along an array path in the provider's
	// declared output schema. CountInput names the input that holds the
	// decomposed array's length.
	ArrayDecomposition struct {
		Path       string `json:"path"`
		CountInput string `json:"countInput"`
	}

	// ArtefactDecl declares one named output of a producer.
	ArtefactDecl struct {
		Name     string               `json:"name"`
		Producer string               `json:"producer"`
		Type     string               `json:"type,omitempty"`
		Arrays   []ArrayDecomposition `json:"arrays,omitempty"`
	}

	// ModelVariant is one provider+model binding a producer can run under.
	ModelVariant struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		RateKey  string `json:"rateKey,omitempty"`
	}

	// ProducerDecl declares one logical production step.
	ProducerDecl struct {
		Name   string         `json:"name"`
		Loops  []string       `json:"loops,omitempty"`
		Models []ModelVariant `json:"models"`
		// Outputs names the artifact outputs this producer emits (matching
		// ArtefactDecl.Name entries whose Producer equals this Name).
		Outputs []string `json:"outputs,omitempty"`
		// OutputSchema is the provider-declared JSON Schema for a
		// JSON-typed output, used to validate array decompositions.
		OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	}

	// ConditionDecl gates an edge: the edge is only resolved when the
	// named input (or artifact) equals Equals, after substituting concrete
	// loop indices into InputPath.
	ConditionDecl struct {
		InputPath string `json:"inputPath"`
		Equals    any    `json:"equals"`
	}

	// EdgeDecl declares a data dependency from From (an input or artifact
	// name, pre-namespacing) to To (a producer name that consumes it).
	EdgeDecl struct {
		From      string         `json:"from"`
		To        string         `json:"to"`
		Condition *ConditionDecl `json:"condition,omitempty"`
	}

	// LoopDecl declares one named loop dimension. Parent, if set, names an
	// enclosing loop dimension; dimensions nest outer-to-inner by Parent
	// chaining.
	LoopDecl struct {
		Name       string `json:"name"`
		Parent     string `json:"parent,omitempty"`
		CountInput string `json:"countInput"`
	}
)
