// Package localizer rewrites the capture widget's English UI text into a
// target language.
//
// The widget renders and restyles its own text after mount, so the text
// cannot be translated statically. Instead the localizer observes the
// widget's subtree and, on every change, walks all text nodes applying an
// ordered list of rules. A rule only rewrites a node whose text differs from
// the replacement, so a pass over translated text is a no-op and a rewrite
// that itself triggers the observer converges.
package localizer

import (
	"regexp"
	"sync"
)

// TextNode is a mutable text node inside the widget.
type TextNode interface {
	Text() string
	SetText(text string)
}

// Tree exposes the widget's current text nodes.
type Tree interface {
	TextNodes() []TextNode
}

// Observer delivers subtree change notifications.
type Observer interface {
	// Observe registers fn and returns the function that unregisters it.
	Observe(fn func()) (unsubscribe func())
}

// Rule rewrites a node whose text matches Pattern to Replacement.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewRule compiles a case-insensitive rule matching phrase literally.
func NewRule(phrase, replacement string) Rule {
	return Rule{
		Pattern:     regexp.MustCompile("(?i)" + regexp.QuoteMeta(phrase)),
		Replacement: replacement,
	}
}

// CompileRule compiles a rule from a regular expression.
func CompileRule(pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Pattern: re, Replacement: replacement}, nil
}

// Apply returns the rewritten text and whether it changed.
func (r Rule) Apply(text string) (string, bool) {
	if r.Pattern == nil || text == r.Replacement || !r.Pattern.MatchString(text) {
		return text, false
	}
	return r.Replacement, true
}

// Localizer applies rules to a tree whenever its observer fires.
type Localizer struct {
	rules     []Rule
	onRewrite func(n int)

	unsubscribe func()
	inPass      bool
	dirty       bool
	mu          sync.Mutex
}

// New creates a localizer with the given ordered rules.
// onRewrite, if non-nil, receives the number of nodes rewritten by each pass.
func New(rules []Rule, onRewrite func(n int)) *Localizer {
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Localizer{rules: copied, onRewrite: onRewrite}
}

// Rules returns a copy of the rule list.
func (l *Localizer) Rules() []Rule {
	out := make([]Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Translate applies the rules to a single string.
func (l *Localizer) Translate(text string) string {
	for _, r := range l.rules {
		text, _ = r.Apply(text)
	}
	return text
}

// Pass rewrites every node of tree once and returns the number of nodes changed.
func (l *Localizer) Pass(tree Tree) int {
	if tree == nil {
		return 0
	}
	changed := 0
	for _, node := range tree.TextNodes() {
		if node == nil {
			continue
		}
		current := node.Text()
		next := l.Translate(current)
		if next != current {
			node.SetText(next)
			changed++
		}
	}
	if changed > 0 && l.onRewrite != nil {
		l.onRewrite(changed)
	}
	return changed
}

// Attach runs a pass immediately and then on every observed change until Detach.
// Attaching again replaces the previous subscription.
func (l *Localizer) Attach(tree Tree, observer Observer) {
	l.Detach()

	l.run(tree)
	if observer == nil {
		return
	}
	unsubscribe := observer.Observe(func() { l.run(tree) })

	l.mu.Lock()
	l.unsubscribe = unsubscribe
	l.mu.Unlock()
}

// Detach stops observing.
func (l *Localizer) Detach() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// run performs passes until no change notification arrived during the last
// one. Notifications raised by our own rewrites only mark the tree dirty.
func (l *Localizer) run(tree Tree) {
	l.mu.Lock()
	if l.inPass {
		l.dirty = true
		l.mu.Unlock()
		return
	}
	l.inPass = true
	l.mu.Unlock()

	for {
		l.Pass(tree)

		l.mu.Lock()
		if !l.dirty {
			l.inPass = false
			l.mu.Unlock()
			return
		}
		l.dirty = false
		l.mu.Unlock()
	}
}
