package canon

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonical ID prefixes, per spec.md §4.2.
const (
	InputPrefix    = "Input:"
	ProducerPrefix = "Producer:"
	ArtifactPrefix = "Artifact:"
)

// InputID builds the canonical ID for an input named name. name is a path of
// identifier segments, optionally containing "." for nested fields and
// "[k]" for loop indices; it is not validated here at all (not even for
// emptiness), since it may already carry brackets supplied by a caller that
// resolved loop indices itself.
func InputID(name string) string {
	return InputPrefix + name
}

// ProducerID builds the canonical ID for a producer at a flattened namespace
// path, e.g. "Parent.Child.Producer".
func ProducerID(alias string) string {
	return ProducerPrefix + alias
}

// ArtifactID builds the canonical ID for an output named outputName of the
// producer at producerAlias, instantiated at the given loop indices (empty
// for a producer with no enclosing loops), with an optional dotted
// sub-path for a virtual sub-artifact of a JSON-typed output.
func ArtifactID(producerAlias, outputName, subPath string, indices []int) string {
	var b strings.Builder
	b.WriteString(ArtifactPrefix)
	b.WriteString(producerAlias)
	b.WriteByte('.')
	b.WriteString(outputName)
	if subPath != "" {
		b.WriteByte('.')
		b.WriteString(subPath)
	}
	for _, i := range indices {
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(']')
	}
	return b.String()
}

// IsInputID reports whether id has the Input: prefix.
func IsInputID(id string) bool { return strings.HasPrefix(id, InputPrefix) }

// IsProducerID reports whether id has the Producer: prefix.
func IsProducerID(id string) bool { return strings.HasPrefix(id, ProducerPrefix) }

// IsArtifactID reports whether id has the Artifact: prefix.
func IsArtifactID(id string) bool { return strings.HasPrefix(id, ArtifactPrefix) }

// ValidateInputID returns an error if id is not a canonical Input: ID: it
// must carry the Input: prefix, a non-empty name, balanced brackets, and no
// whitespace. Planning rejects non-canonical input IDs with
// NON_CANONICAL_INPUT_ID (spec.md §4.4).
func ValidateInputID(id string) error {
	if !strings.HasPrefix(id, InputPrefix) {
		return fmt.Errorf("canon: %q is missing the %q prefix", id, InputPrefix)
	}
	name := strings.TrimPrefix(id, InputPrefix)
	if name == "" {
		return fmt.Errorf("canon: %q has an empty name", id)
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return fmt.Errorf("canon: %q contains whitespace", id)
	}
	depth := 0
	for _, r := range name {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("canon: %q has unbalanced brackets", id)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("canon: %q has unbalanced brackets", id)
	}
	return nil
}

// SplitArtifactIndices parses the trailing "[i1][i2]..." loop indices off a
// canonical artifact ID, returning the base ID (without indices) and the
// parsed indices in declaration order.
func SplitArtifactIndices(id string) (base string, indices []int, err error) {
	base = id
	for strings.HasSuffix(base, "]") {
		open := strings.LastIndexByte(base, '[')
		if open < 0 {
			return "", nil, fmt.Errorf("canon: %q has an unterminated index", id)
		}
		n, err := strconv.Atoi(base[open+1 : len(base)-1])
		if err != nil {
			return "", nil, fmt.Errorf("canon: %q has a non-integer index: %w", id, err)
		}
		indices = append([]int{n}, indices...)
		base = base[:open]
	}
	return base, indices, nil
}
