package canon

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestEncodeSortsObjectKeys(t *testing.T) {
	t.Parallel()

	a, err := Encode(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := Encode(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestEncodeIntegralFloatHasNoDecimalPoint(t *testing.T) {
	t.Parallel()

	b, err := Encode(3.0)
	require.NoError(t, err)
	require.Equal(t, "3", string(b))
}

func TestHashIsStableAcrossKeyOrder(t *testing.T) {
	t.Parallel()

	h1, err := Hash(map[string]any{"theme": "sunset", "count": 3})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"count": 3, "theme": "sunset"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestHashChangesWithValue(t *testing.T) {
	t.Parallel()

	h1, err := Hash("sunset")
	require.NoError(t, err)
	h2, err := Hash("moonrise")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestRoundTripProperty(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encode then decode deeply equals the original map", prop.ForAll(
		func(m map[string]string) bool {
			in := make(map[string]any, len(m))
			for k, v := range m {
				in[k] = v
			}
			b, err := Encode(in)
			if err != nil {
				return false
			}
			var out map[string]any
			if err := json.Unmarshal(b, &out); err != nil {
				return false
			}
			if out == nil {
				out = map[string]any{}
			}
			return reflect.DeepEqual(in, out)
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestValidateInputID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateInputID("Input:Theme"))
	require.NoError(t, ValidateInputID("Input:Segments[0].Duration"))
	require.Error(t, ValidateInputID("Theme"))
	require.Error(t, ValidateInputID("Input:"))
	require.Error(t, ValidateInputID("Input:Segments[0"))
	require.Error(t, ValidateInputID("Input:a b"))
}

func TestArtifactID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Artifact:P.Image", ArtifactID("P", "Image", "", nil))
	require.Equal(t, "Artifact:P.Image[0][1]", ArtifactID("P", "Image", "", []int{0, 1}))
	require.Equal(t, "Artifact:P.Image.scenes[2]", ArtifactID("P", "Image", "scenes", []int{2}))
}

func TestSplitArtifactIndices(t *testing.T) {
	t.Parallel()

	base, idx, err := SplitArtifactIndices("Artifact:P.Image[0][3]")
	require.NoError(t, err)
	require.Equal(t, "Artifact:P.Image", base)
	require.Equal(t, []int{0, 3}, idx)

	_, _, err = SplitArtifactIndices("Artifact:P.Image[x]")
	require.Error(t, err)
}
