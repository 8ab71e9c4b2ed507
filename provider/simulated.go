package provider

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Simulated is a Handler that never calls an external API: it synthesizes
// plausible outputs from each artifact's declared JSON Schema (spec.md
// §4.7), so planning, layering, and store-integrity paths can be exercised
// end to end without provider credentials. OutputSchemas maps a canonical
// artifact ID to the JSON Schema its output must conform to; an artifact
// with no entry gets a small fixed JSON payload.
type Simulated struct {
	OutputSchemas map[string]json.RawMessage
}

var _ Handler = (*Simulated)(nil)

// WarmStart is a no-op: the simulated handler has no external connections
// to establish.
func (s *Simulated) WarmStart(ctx context.Context, descriptors []Descriptor) error {
	return nil
}

// Invoke synthesizes one ArtifactResult per entry in req.Produces.
func (s *Simulated) Invoke(ctx context.Context, req Request) (Response, error) {
	resp := Response{JobID: req.JobID, Status: "succeeded"}
	for _, artifactID := range req.Produces {
		value, err := s.synthesize(artifactID)
		if err != nil {
			resp.Artefacts = append(resp.Artefacts, ArtifactResult{
				ArtifactID: artifactID, Status: "failed",
				Diagnostics: mustDiagnostics(err),
			})
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			resp.Artefacts = append(resp.Artefacts, ArtifactResult{
				ArtifactID: artifactID, Status: "failed",
				Diagnostics: mustDiagnostics(err),
			})
			continue
		}
		resp.Artefacts = append(resp.Artefacts, ArtifactResult{
			ArtifactID: artifactID,
			Status:     "succeeded",
			Blob:       &BlobPayload{Data: data, MIMEType: "application/json"},
		})
	}
	return resp, nil
}

// synthesize produces a schema-conformant value for artifactID, or a small
// deterministic placeholder object when no schema is declared.
func (s *Simulated) synthesize(artifactID string) (any, error) {
	raw, ok := s.OutputSchemas[artifactID]
	if !ok || len(raw) == 0 {
		return map[string]any{"simulated": true, "artifactId": artifactID}, nil
	}

	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("provider: unmarshal schema for %s: %w", artifactID, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(artifactID, schemaDoc); err != nil {
		return nil, fmt.Errorf("provider: add schema resource for %s: %w", artifactID, err)
	}
	schema, err := c.Compile(artifactID)
	if err != nil {
		return nil, fmt.Errorf("provider: compile schema for %s: %w", artifactID, err)
	}

	value := synthesizeFromSchema(schemaDoc, artifactID)
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("provider: synthesized value for %s does not satisfy its schema: %w", artifactID, err)
	}
	return value, nil
}

// synthesizeFromSchema walks a JSON Schema document and produces one
// plausible value per declared type. seed varies deterministically with the
// artifact ID so that distinct artifacts of the same producer (e.g. across
// loop indices) do not collide on content hash.
func synthesizeFromSchema(schemaDoc any, seed string) any {
	m, ok := schemaDoc.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	switch t, _ := m["type"].(string); t {
	case "object":
		out := map[string]any{}
		props, _ := m["properties"].(map[string]any)
		required, _ := m["required"].([]any)
		requiredSet := make(map[string]struct{}, len(required))
		for _, r := range required {
			if s, ok := r.(string); ok {
				requiredSet[s] = struct{}{}
			}
		}
		for name, propSchema := range props {
			if len(requiredSet) > 0 {
				if _, ok := requiredSet[name]; !ok {
					continue
				}
			}
			out[name] = synthesizeFromSchema(propSchema, seed+"."+name)
		}
		return out
	case "array":
		items := m["items"]
		minItems := 1
		if mi, ok := m["minItems"].(float64); ok && int(mi) > minItems {
			minItems = int(mi)
		}
		arr := make([]any, minItems)
		for i := range arr {
			arr[i] = synthesizeFromSchema(items, fmt.Sprintf("%s[%d]", seed, i))
		}
		return arr
	case "integer":
		return int(seedToUint(seed) % 1000)
	case "number":
		return float64(seedToUint(seed)%1000) / 10.0
	case "boolean":
		return seedToUint(seed)%2 == 0
	case "string":
		if enum, ok := m["enum"].([]any); ok && len(enum) > 0 {
			return enum[int(seedToUint(seed)%uint64(len(enum)))]
		}
		return fmt.Sprintf("simulated-%s", seed)
	default:
		return map[string]any{}
	}
}

func seedToUint(seed string) uint64 {
	sum := sha256.Sum256([]byte(seed))
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(sum[i])
	}
	return v
}

func mustDiagnostics(err error) json.RawMessage {
	b, marshalErr := json.Marshal(map[string]any{"error": err.Error()})
	if marshalErr != nil {
		return nil
	}
	return b
}
