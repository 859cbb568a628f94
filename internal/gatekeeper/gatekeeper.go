// Package gatekeeper applies a policy to a document: numeric values are
// swapped for vault placeholders, sibling order is randomized and
// identifying tag names are shadowed.
package gatekeeper

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/config"
	"github.com/raaihank/moltkeeper/internal/document"
	"github.com/raaihank/moltkeeper/internal/logger"
	"github.com/raaihank/moltkeeper/internal/policy"
	"github.com/raaihank/moltkeeper/internal/vault"
)

// Gatekeeper runs the three-stage transform.
type Gatekeeper struct {
	logger *logger.Logger
}

// New creates a gatekeeper.
func New(log *logger.Logger) *Gatekeeper {
	if log == nil {
		log = logger.NewNop()
	}
	return &Gatekeeper{logger: log.WithComponent("gatekeeper")}
}

// Apply returns a sanitized copy of doc; doc itself is left untouched.
// Configuration is validated before anything runs, so a failed call stores
// nothing in v.
//
// Masking runs when the policy enables global masking or carries any
// mask_value rule; it covers every element whose trimmed text matches the
// value pattern, not only the tags the rules name. Shuffling runs when
// enabled and the policy carries shuffle_siblings rules. Tag shadowing
// always runs.
func (g *Gatekeeper) Apply(doc *document.Document, p *policy.Policy, cfg config.GatekeeperConfig, v *vault.Vault) (*document.Document, *Report, error) {
	if doc == nil || doc.Root == nil {
		return nil, nil, errors.New("no document to sanitize")
	}
	if p == nil {
		return nil, nil, errors.New("no policy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid gatekeeper configuration: %w", err)
	}
	pattern, err := cfg.ValuePattern()
	if err != nil {
		return nil, nil, err
	}

	report := &Report{
		MaskingApplied:   p.GlobalMasking || p.HasAction(policy.ActionMaskValue),
		ShufflingApplied: cfg.Shuffling.Enabled && p.HasAction(policy.ActionShuffleSiblings),
	}
	if report.MaskingApplied && v == nil {
		return nil, nil, errors.New("masking requires a vault")
	}

	out := doc.Clone()

	if report.MaskingApplied {
		report.Masked = maskValues(out.Root, pattern, v)
	}
	if report.ShufflingApplied {
		rng := newRand(cfg.Shuffling.Seed)
		report.ShuffledParents = shuffleChildren(out.Root, p.ShuffleParents(), rng)
	}
	report.Shadowed = ShadowTags(out, cfg.TagMap)

	g.logger.Debug("Document sanitized",
		zap.Bool("masking", report.MaskingApplied),
		zap.Bool("shuffling", report.ShufflingApplied),
		zap.Int("masked", report.Masked),
		zap.Int("shuffled_parents", report.ShuffledParents),
		zap.Int("shadowed", report.Shadowed),
	)

	return out, report, nil
}

// MaskValues replaces, in place, the text of every element whose trimmed
// text fully matches cfg's value pattern with a placeholder from v. It
// returns the number of values masked.
func MaskValues(doc *document.Document, cfg config.GatekeeperConfig, v *vault.Vault) (int, error) {
	pattern, err := cfg.ValuePattern()
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, errors.New("masking requires a vault")
	}
	return maskValues(doc.Root, pattern, v), nil
}

func maskValues(root *document.Node, pattern *regexp.Regexp, v *vault.Vault) int {
	masked := 0
	root.Walk(func(n *document.Node) {
		text := strings.TrimSpace(n.Text)
		if text != "" && pattern.MatchString(text) {
			n.Text = v.Store(text)
			masked++
		}
	})
	return masked
}

// ShuffleSiblings permutes, in place, the children of every element whose
// local name is the parent tag of a shuffle_siblings rule. With nil rules
// the configured target tags are used instead. It does nothing when
// shuffling is disabled and returns the number of parents shuffled.
func ShuffleSiblings(doc *document.Document, cfg config.ShufflingConfig, rules []policy.Rule) int {
	if !cfg.Enabled {
		return 0
	}

	parents := make(map[string]struct{})
	if rules != nil {
		for _, r := range rules {
			if r.Action == policy.ActionShuffleSiblings {
				parents[r.TagPattern] = struct{}{}
			}
		}
	} else {
		for _, tag := range cfg.TargetTags {
			parents[tag] = struct{}{}
		}
	}

	return shuffleChildren(doc.Root, parents, newRand(cfg.Seed))
}

// shuffleChildren visits targets in document order as they stood before
// any shuffling, so a seed yields the same permutation sequence every time.
func shuffleChildren(root *document.Node, parents map[string]struct{}, rng *rand.Rand) int {
	var targets []*document.Node
	root.Walk(func(n *document.Node) {
		if _, ok := parents[n.Name.Local]; ok && len(n.Children) >= 2 {
			targets = append(targets, n)
		}
	})

	for _, n := range targets {
		children := n.Children
		rng.Shuffle(len(children), func(i, j int) {
			children[i], children[j] = children[j], children[i]
		})
	}
	return len(targets)
}

// ShadowTags renames, in place, elements whose local name is a key of
// tagMap. Namespace and prefix are kept. A nil tagMap selects
// DefaultTagMap. It returns the number of elements renamed.
func ShadowTags(doc *document.Document, tagMap map[string]string) int {
	if tagMap == nil {
		tagMap = DefaultTagMap()
	}
	renamed := 0
	doc.Root.Walk(func(n *document.Node) {
		if to, ok := tagMap[n.Name.Local]; ok {
			n.Name.Local = to
			renamed++
		}
	})
	return renamed
}

func newRand(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := uint64(*seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}
