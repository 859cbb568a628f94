// Package policy generates, stores and loads anonymization policies.
package policy

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/document"
)

// sensitiveKeywords mark tags whose text is always masked.
var sensitiveKeywords = []string{"pressure", "temperature", "velocity", "coord", "val", "force", "stress"}

// numericLeaf is the strict grammar for numeric leaf detection.
var numericLeaf = regexp.MustCompile(`^-?\d+(\.\d*)?$`)

// Detector scans documents and proposes a Policy.
type Detector struct {
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a rule detector.
func NewDetector(logger *zap.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect walks doc in pre-order and emits:
//   - mask_value for tags containing a sensitive keyword,
//   - mask_value for tags whose trimmed text is a plain number,
//   - shuffle_siblings for parents with a child tag repeated at least twice.
//
// A tag gets at most one mask_value rule and each parent/child pair at most
// one shuffle_siblings rule. Once a mask_value rule is emitted for a node
// its children are not counted.
func (d *Detector) Detect(doc *document.Document) *Policy {
	rules := detectRules(doc.Root)
	created := d.now()

	d.logger.Info("Policy generated",
		zap.Int("rules", len(rules)),
		zap.Int("mask_rules", countAction(rules, ActionMaskValue)),
		zap.Int("shuffle_rules", countAction(rules, ActionShuffleSiblings)),
	)

	return &Policy{
		Version:       DefaultVersion,
		GlobalMasking: false,
		Rules:         rules,
		CreatedAt:     &created,
	}
}

type accumulator struct {
	rules []Rule
	seen  map[string]struct{}
}

func (a *accumulator) add(key string, r Rule) {
	a.seen[key] = struct{}{}
	a.rules = append(a.rules, r)
}

func (a *accumulator) has(key string) bool {
	_, ok := a.seen[key]
	return ok
}

func detectRules(root *document.Node) []Rule {
	acc := &accumulator{seen: make(map[string]struct{})}
	root.Walk(func(n *document.Node) {
		visit(acc, n)
	})
	return acc.rules
}

func visit(acc *accumulator, n *document.Node) {
	tag := n.Name.Local

	if hasSensitiveKeyword(tag) && !acc.has(tag) {
		acc.add(tag, Rule{TagPattern: tag, Action: ActionMaskValue})
		return
	}

	if text := strings.TrimSpace(n.Text); text != "" && numericLeaf.MatchString(text) && !acc.has(tag) {
		acc.add(tag, Rule{TagPattern: tag, Action: ActionMaskValue})
		return
	}

	var order []string
	counts := make(map[string]int)
	for _, c := range n.Children {
		local := c.Name.Local
		if counts[local] == 0 {
			order = append(order, local)
		}
		counts[local]++
	}
	for _, child := range order {
		key := tag + "/" + child
		if counts[child] >= 2 && !acc.has(key) {
			acc.add(key, Rule{
				TagPattern: tag,
				Action:     ActionShuffleSiblings,
				Parameters: map[string]any{ParamChildTag: child},
			})
		}
	}
}

func hasSensitiveKeyword(tag string) bool {
	lower := strings.ToLower(tag)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func countAction(rules []Rule, action Action) int {
	n := 0
	for _, r := range rules {
		if r.Action == action {
			n++
		}
	}
	return n
}
