package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/apperr"
	"github.com/raaihank/moltkeeper/internal/document"
)

const sampleSimulation = `<simulation>` +
	`<metadata><id>sim-001</id><type>thermal_analysis</type></metadata>` +
	`<element id="e1"><pressure>123.45</pressure><temperature>500.0</temperature><velocity>25.5</velocity></element>` +
	`<element id="e2"><pressure>678.90</pressure><temperature>600.0</temperature><velocity>30.2</velocity></element>` +
	`<node id="n1"><coordinates><x>10.5</x><y>20.3</y><z>30.7</z></coordinates></node>` +
	`</simulation>`

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestDetector() *Detector {
	return NewDetector(zap.NewNop(), WithClock(func() time.Time { return fixedTime }))
}

func mustParse(t *testing.T, s string) *document.Document {
	t.Helper()
	doc, err := document.ParseString(s)
	require.NoError(t, err)
	return doc
}

func mask(tag string) Rule {
	return Rule{TagPattern: tag, Action: ActionMaskValue}
}

func shuffle(parent, child string) Rule {
	return Rule{TagPattern: parent, Action: ActionShuffleSiblings, Parameters: map[string]any{ParamChildTag: child}}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Rule
	}{
		{
			name:  "SinglePressure",
			input: `<root><pressure>123.45</pressure></root>`,
			want:  []Rule{mask("pressure")},
		},
		{
			name:  "Simulation",
			input: sampleSimulation,
			want: []Rule{
				shuffle("simulation", "element"),
				mask("pressure"),
				mask("temperature"),
				mask("velocity"),
				mask("coordinates"),
				mask("x"),
				mask("y"),
				mask("z"),
			},
		},
		{
			name:  "KeywordIsCaseInsensitiveSubstring",
			input: `<root><MaxStress>n/a</MaxStress><interval>soon</interval></root>`,
			want:  []Rule{mask("MaxStress"), mask("interval")},
		},
		{
			name:  "NumericGrammar",
			input: `<root><a>-3</a><b>1.</b><c>.5</c><d>1e5</d><e>  42 </e><f>12abc</f></root>`,
			want:  []Rule{mask("a"), mask("b"), mask("e")},
		},
		{
			name:  "MaskedNodeSkipsShuffleCheck",
			input: `<root><forces><f>1</f><f>2</f></forces></root>`,
			want:  []Rule{mask("forces"), mask("f")},
		},
		{
			name:  "ShuffleInFirstOccurrenceOrder",
			input: `<root><b/><a/><b/><a/><c/></root>`,
			want:  []Rule{shuffle("root", "b"), shuffle("root", "a")},
		},
		{
			name:  "ShuffleDedupByParentAndChild",
			input: `<root><g><item/><item/></g><g><item/><item/><row/><row/></g></root>`,
			want:  []Rule{shuffle("root", "g"), shuffle("g", "item"), shuffle("g", "row")},
		},
		{
			name:  "NothingSensitive",
			input: `<root><name>alpha</name><label>beta</label></root>`,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestDetector().Detect(mustParse(t, tt.input))
			require.Equal(t, DefaultVersion, p.Version)
			require.False(t, p.GlobalMasking)
			require.NotNil(t, p.CreatedAt)
			require.Equal(t, fixedTime, *p.CreatedAt)
			require.Equal(t, tt.want, p.Rules)
		})
	}
}

func TestDetectIsRepeatable(t *testing.T) {
	d := newTestDetector()
	doc := mustParse(t, sampleSimulation)

	first := d.Detect(doc)
	second := d.Detect(doc)
	require.Equal(t, first.Rules, second.Rules)
	require.Equal(t, sampleSimulation, doc.String())
}

func TestPolicyHelpers(t *testing.T) {
	p := newTestDetector().Detect(mustParse(t, sampleSimulation))

	require.True(t, p.HasAction(ActionMaskValue))
	require.True(t, p.HasAction(ActionShuffleSiblings))
	require.False(t, p.HasAction(ActionRedact))
	require.Len(t, p.RulesFor(ActionMaskValue), 7)

	shuffles := p.RulesFor(ActionShuffleSiblings)
	require.Len(t, shuffles, 1)
	require.Equal(t, "element", shuffles[0].ChildTag())
	require.Equal(t, map[string]struct{}{"simulation": {}}, p.ShuffleParents())

	require.Empty(t, mask("x").ChildTag())
	require.True(t, ActionPreserve.Valid())
	require.False(t, Action("encrypt").Valid())
}

func TestSaveLoad(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "policy.json")
		p := newTestDetector().Detect(mustParse(t, sampleSimulation))

		require.NoError(t, Save(p, path))
		loaded, err := Load(path)
		require.NoError(t, err)

		require.Equal(t, p.Version, loaded.Version)
		require.Equal(t, p.GlobalMasking, loaded.GlobalMasking)
		require.Equal(t, p.Rules, loaded.Rules)
		require.True(t, p.CreatedAt.Equal(*loaded.CreatedAt))
	})

	t.Run("ParametersOmittedWhenEmpty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.json")
		require.NoError(t, Save(&Policy{Version: "1.0", Rules: []Rule{mask("pressure")}}, path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NotContains(t, string(data), "parameters")
		require.Contains(t, string(data), `"created_at": null`)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		_, err := Unmarshal([]byte(`{"rules": [`))
		require.ErrorIs(t, err, apperr.ErrParse)
	})

	t.Run("UnknownAction", func(t *testing.T) {
		_, err := Unmarshal([]byte(`{"version":"1.0","rules":[{"tag_pattern":"x","action":"encrypt"}]}`))
		require.ErrorIs(t, err, apperr.ErrParse)
		require.True(t, strings.Contains(err.Error(), "encrypt"))
	})

	t.Run("Defaults", func(t *testing.T) {
		p, err := Unmarshal([]byte(`{"global_masking": true, "rules": [], "created_at": null}`))
		require.NoError(t, err)
		require.Equal(t, DefaultVersion, p.Version)
		require.True(t, p.GlobalMasking)
		require.Nil(t, p.CreatedAt)
		require.Empty(t, p.Rules)
	})

	t.Run("NaiveTimestamp", func(t *testing.T) {
		p, err := Unmarshal([]byte(`{"version":"1.0","rules":[],"created_at":"2024-05-06T07:08:09.123456"}`))
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC), *p.CreatedAt)
	})

	t.Run("ShuffleParameters", func(t *testing.T) {
		p, err := Unmarshal([]byte(`{"rules":[{"tag_pattern":"simulation","action":"shuffle_siblings","parameters":{"child_tag":"element"}}]}`))
		require.NoError(t, err)
		require.Equal(t, "element", p.Rules[0].ChildTag())
	})
}
