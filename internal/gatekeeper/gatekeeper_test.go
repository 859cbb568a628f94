package gatekeeper

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raaihank/moltkeeper/internal/config"
	"github.com/raaihank/moltkeeper/internal/document"
	"github.com/raaihank/moltkeeper/internal/logger"
	"github.com/raaihank/moltkeeper/internal/policy"
	"github.com/raaihank/moltkeeper/internal/vault"
)

var referenceLiterals = []string{"123.45", "500.0", "25.5", "678.90", "600.0", "30.2", "10.5", "20.3", "30.7"}

var placeholderRE = regexp.MustCompile(`^VAL_[0-9a-f]{32}$`)

func loadSample(t *testing.T) (*document.Document, *policy.Policy) {
	t.Helper()
	doc, err := document.ParseFile("testdata/sample.xml")
	require.NoError(t, err)
	p, err := policy.Load("testdata/policy.json")
	require.NoError(t, err)
	return doc, p
}

func defaultConfig() config.GatekeeperConfig {
	return config.GetDefaults().Gatekeeper()
}

func seeded(seed int64) config.GatekeeperConfig {
	cfg := defaultConfig()
	cfg.Shuffling.Seed = &seed
	return cfg
}

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%032x", n)
	}
}

func TestConcreteScenario(t *testing.T) {
	doc, err := document.ParseString(`<root><pressure>123.45</pressure></root>`)
	require.NoError(t, err)
	p := &policy.Policy{Version: "1.0", Rules: []policy.Rule{{TagPattern: "pressure", Action: policy.ActionMaskValue}}}

	t.Run("MaskingOnly", func(t *testing.T) {
		work := doc.Clone()
		v := vault.New(nil)
		n, err := MaskValues(work, defaultConfig(), v)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		masked := work.Root.Find("pressure")
		require.NotNil(t, masked)
		require.Regexp(t, placeholderRE, masked.Text)
		require.Equal(t, 1, v.Len())
		orig, ok := v.Restore(masked.Text)
		require.True(t, ok)
		require.Equal(t, "123.45", orig)
	})

	t.Run("FullPipeline", func(t *testing.T) {
		v := vault.New(nil)
		out, report, err := New(logger.NewNop()).Apply(doc, p, defaultConfig(), v)
		require.NoError(t, err)

		require.Nil(t, out.Root.Find("pressure"))
		shadowed := out.Root.Find("metric_alpha")
		require.NotNil(t, shadowed)
		require.Equal(t, "123.45", v.RehydrateValue(shadowed.Text))
		require.Equal(t, "<root><metric_alpha>"+shadowed.Text+"</metric_alpha></root>", out.String())

		require.True(t, report.MaskingApplied)
		require.False(t, report.ShufflingApplied)
		require.Equal(t, 1, report.Masked)
		require.Equal(t, 1, report.Shadowed)
	})
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	doc, p := loadSample(t)
	before := doc.String()

	_, _, err := New(nil).Apply(doc, p, seeded(1), vault.New(nil))
	require.NoError(t, err)
	require.Equal(t, before, doc.String())
}

func TestNoLeak(t *testing.T) {
	doc, p := loadSample(t)
	v := vault.New(nil)

	out, report, err := New(nil).Apply(doc, p, defaultConfig(), v)
	require.NoError(t, err)
	require.Equal(t, len(referenceLiterals), report.Masked)

	serialized := out.String()
	for _, lit := range referenceLiterals {
		require.NotContains(t, serialized, lit)
	}
}

func TestRoundTrip(t *testing.T) {
	doc, p := loadSample(t)
	v := vault.New(nil)

	out, _, err := New(nil).Apply(doc, p, defaultConfig(), v)
	require.NoError(t, err)

	var restored []string
	out.Walk(func(n *document.Node) {
		if placeholderRE.MatchString(n.Text) {
			restored = append(restored, v.RehydrateValue(n.Text))
		}
	})
	sort.Strings(restored)

	want := append([]string(nil), referenceLiterals...)
	sort.Strings(want)
	require.Equal(t, want, restored)

	text := v.RehydrateText(out.String())
	for _, lit := range referenceLiterals {
		require.Contains(t, text, lit)
	}
	require.Equal(t, text, v.RehydrateText(text))
}

func TestTagShadowDisjointness(t *testing.T) {
	doc, p := loadSample(t)
	out, _, err := New(nil).Apply(doc, p, defaultConfig(), vault.New(nil))
	require.NoError(t, err)

	mapped := DefaultTagMap()
	out.Walk(func(n *document.Node) {
		_, bad := mapped[n.Name.Local]
		require.False(t, bad, n.Name.Local)
	})
	require.Len(t, out.Root.FindAll("metric_alpha"), 2)
	require.Len(t, out.Root.FindAll("spatial_delta"), 1)
}

func TestShadowKeepsNamespace(t *testing.T) {
	doc, err := document.ParseString(`<s:root xmlns:s="urn:sim"><s:velocity>1</s:velocity><custom>2</custom></s:root>`)
	require.NoError(t, err)

	n := ShadowTags(doc, nil)
	require.Equal(t, 1, n)
	require.Equal(t, document.Name{Space: "urn:sim", Prefix: "s", Local: "kinematic_gamma"}, doc.Root.Children[0].Name)
	require.Equal(t, `<s:root xmlns:s="urn:sim"><s:kinematic_gamma>1</s:kinematic_gamma><custom>2</custom></s:root>`, doc.String())

	n = ShadowTags(doc, map[string]string{"custom": "opaque"})
	require.Equal(t, 1, n)
	require.Equal(t, "opaque", doc.Root.Children[1].Name.Local)
}

func TestDeterminism(t *testing.T) {
	doc, p := loadSample(t)

	run := func(seed int64) string {
		v := vault.New(nil, vault.WithIDGenerator(counterIDs()))
		out, _, err := New(nil).Apply(doc, p, seeded(seed), v)
		require.NoError(t, err)
		return out.String()
	}

	first := run(42)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, run(42))
	}
}

func TestShuffleSiblings(t *testing.T) {
	var b strings.Builder
	b.WriteString("<list>")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, `<element id="%d"><v>%d</v></element>`, i, i)
	}
	b.WriteString("</list>")
	src := b.String()

	childSet := func(doc *document.Document) []string {
		var out []string
		for _, c := range doc.Root.Children {
			out = append(out, (&document.Document{Root: c}).String())
		}
		sort.Strings(out)
		return out
	}

	t.Run("MultisetPreserved", func(t *testing.T) {
		doc, err := document.ParseString(src)
		require.NoError(t, err)
		before := childSet(doc)

		seed := int64(7)
		n := ShuffleSiblings(doc, config.ShufflingConfig{Enabled: true, Seed: &seed, TargetTags: []string{"list"}}, nil)
		require.Equal(t, 1, n)
		require.Equal(t, before, childSet(doc))
	})

	t.Run("SeedsDiffer", func(t *testing.T) {
		orders := make(map[string]struct{})
		for seed := int64(1); seed <= 10; seed++ {
			doc, err := document.ParseString(src)
			require.NoError(t, err)
			ShuffleSiblings(doc, config.ShufflingConfig{Enabled: true, Seed: &seed}, []policy.Rule{
				{TagPattern: "list", Action: policy.ActionShuffleSiblings},
			})
			orders[doc.String()] = struct{}{}
		}
		require.Greater(t, len(orders), 1)
	})

	t.Run("RulesSelectParentsOnly", func(t *testing.T) {
		doc, err := document.ParseString(src)
		require.NoError(t, err)
		seed := int64(3)
		n := ShuffleSiblings(doc, config.ShufflingConfig{Enabled: true, Seed: &seed, TargetTags: []string{"list"}}, []policy.Rule{
			{TagPattern: "other", Action: policy.ActionShuffleSiblings},
			{TagPattern: "list", Action: policy.ActionMaskValue},
		})
		require.Zero(t, n)
		require.Equal(t, src, doc.String())
	})

	t.Run("Disabled", func(t *testing.T) {
		doc, err := document.ParseString(src)
		require.NoError(t, err)
		require.Zero(t, ShuffleSiblings(doc, config.ShufflingConfig{Enabled: false, TargetTags: []string{"list"}}, nil))
		require.Equal(t, src, doc.String())
	})

	t.Run("SingleChildSkipped", func(t *testing.T) {
		doc, err := document.ParseString(`<list><element/></list>`)
		require.NoError(t, err)
		require.Zero(t, ShuffleSiblings(doc, config.ShufflingConfig{Enabled: true, TargetTags: []string{"list"}}, nil))
	})
}

func TestStageGating(t *testing.T) {
	const src = `<root><element><a>1</a></element><element><a>2</a></element></root>`
	shuffleRule := policy.Rule{TagPattern: "root", Action: policy.ActionShuffleSiblings, Parameters: map[string]any{"child_tag": "element"}}

	tests := []struct {
		name          string
		policy        *policy.Policy
		shuffling     bool
		wantMasking   bool
		wantShuffling bool
	}{
		{"NoRules", &policy.Policy{}, true, false, false},
		{"GlobalMaskingOnly", &policy.Policy{GlobalMasking: true}, true, true, false},
		{"MaskRuleForOtherTag", &policy.Policy{Rules: []policy.Rule{{TagPattern: "zzz", Action: policy.ActionMaskValue}}}, true, true, false},
		{"ShuffleRule", &policy.Policy{Rules: []policy.Rule{shuffleRule}}, true, false, true},
		{"ShuffleRuleDisabled", &policy.Policy{Rules: []policy.Rule{shuffleRule}}, false, false, false},
		{"PreserveAndRedactAreInert", &policy.Policy{Rules: []policy.Rule{
			{TagPattern: "a", Action: policy.ActionPreserve},
			{TagPattern: "a", Action: policy.ActionRedact},
		}}, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := document.ParseString(src)
			require.NoError(t, err)
			cfg := seeded(5)
			cfg.Shuffling.Enabled = tt.shuffling
			v := vault.New(nil)

			out, report, err := New(nil).Apply(doc, tt.policy, cfg, v)
			require.NoError(t, err)
			require.Equal(t, tt.wantMasking, report.MaskingApplied)
			require.Equal(t, tt.wantShuffling, report.ShufflingApplied)

			if tt.wantMasking {
				require.Equal(t, 2, v.Len())
				require.NotContains(t, out.String(), "<a>1</a>")
			} else {
				require.Zero(t, v.Len())
				require.Contains(t, out.String(), "<a>1</a>")
			}
		})
	}
}

func TestApplyErrors(t *testing.T) {
	doc, p := loadSample(t)

	t.Run("BadPattern", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Masking.ValuePattern = "(["
		v := vault.New(nil)
		_, _, err := New(nil).Apply(doc, p, cfg, v)
		require.Error(t, err)
		require.Zero(t, v.Len())
	})

	t.Run("NilVault", func(t *testing.T) {
		_, _, err := New(nil).Apply(doc, p, defaultConfig(), nil)
		require.Error(t, err)
	})

	t.Run("NilPolicy", func(t *testing.T) {
		_, _, err := New(nil).Apply(doc, nil, defaultConfig(), vault.New(nil))
		require.Error(t, err)
	})

	t.Run("NilDocument", func(t *testing.T) {
		_, _, err := New(nil).Apply(nil, p, defaultConfig(), vault.New(nil))
		require.Error(t, err)
	})

	t.Run("NoVaultNeededWithoutMasking", func(t *testing.T) {
		out, _, err := New(nil).Apply(doc, &policy.Policy{}, defaultConfig(), nil)
		require.NoError(t, err)
		require.NotNil(t, out.Root.Find("metric_alpha"))
	})
}

func TestMaskValuesPattern(t *testing.T) {
	doc, err := document.ParseString(`<r><a> 42 </a><b>12abc</b><c>-0.5</c><d id="7">x</d><e>1.2.3</e></r>`)
	require.NoError(t, err)
	v := vault.New(nil)

	n, err := MaskValues(doc, defaultConfig(), v)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "42", v.RehydrateValue(doc.Root.Find("a").Text))
	require.Equal(t, "-0.5", v.RehydrateValue(doc.Root.Find("c").Text))
	require.Equal(t, "12abc", doc.Root.Find("b").Text)
	id, _ := doc.Root.Find("d").Attr("id")
	require.Equal(t, "7", id)
}
