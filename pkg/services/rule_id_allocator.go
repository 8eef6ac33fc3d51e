package services

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Rule id categories.
const (
	RuleCategoryModifier   = "MOD"
	RuleCategoryEM         = "EM"
	RuleCategoryProcedure  = "PROC"
	RuleCategoryDiagnosis  = "DX"
	RuleCategoryTelehealth = "TELE"
	RuleCategoryGeneric    = "RULE"
)

// categoryKeywords is checked in order; the first keyword found wins.
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"modifier", RuleCategoryModifier},
	{"e&m", RuleCategoryEM},
	{"procedure", RuleCategoryProcedure},
	{"diagnosis", RuleCategoryDiagnosis},
	{"telehealth", RuleCategoryTelehealth},
}

// CategoryForAction infers the rule id category from free action text.
// Matching is case-insensitive and plural-tolerant ("Append modifiers" is MOD).
func CategoryForAction(actionText string) string {
	words := strings.FieldsFunc(strings.ToLower(actionText), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
	singular := make([]string, len(words))
	for i, w := range words {
		singular[i] = inflection.Singular(w)
	}
	raw := strings.Join(words, " ")
	normalized := strings.Join(singular, " ")

	for _, kw := range categoryKeywords {
		if strings.Contains(normalized, kw.keyword) || strings.Contains(raw, kw.keyword) {
			return kw.category
		}
	}
	return RuleCategoryGeneric
}

// RuleIDAllocator hands out "{prefix}-{CATEGORY}-{NNNN}" ids for one SOP.
// Each category has its own sequence continuing after the highest index
// ever issued. Callers seed it from the live ids and from the persisted
// high-water marks so the ids of cleaned-up rules are never handed out again.
type RuleIDAllocator struct {
	prefix string
	next   map[string]int
}

// NewRuleIDAllocator seeds the sequences from the ids already in the SOP.
func NewRuleIDAllocator(prefix string, existing []string) *RuleIDAllocator {
	a := &RuleIDAllocator{
		prefix: prefix,
		next:   make(map[string]int),
	}
	for _, id := range existing {
		a.Observe(id)
	}
	return a
}

// Observe advances the sequence past an id assigned elsewhere.
// Ids with another prefix or a non-numeric suffix are ignored.
func (a *RuleIDAllocator) Observe(ruleID string) {
	if category, n, ok := a.parse(ruleID); ok {
		a.Raise(category, n)
	}
}

func (a *RuleIDAllocator) parse(ruleID string) (string, int, bool) {
	rest, ok := strings.CutPrefix(ruleID, a.prefix+"-")
	if !ok {
		return "", 0, false
	}
	category, suffix, ok := strings.Cut(rest, "-")
	if !ok {
		return "", 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 {
		return "", 0, false
	}
	return category, n, true
}

// Raise moves the category's sequence past last, the highest index known
// to have been issued. It never lowers a sequence.
func (a *RuleIDAllocator) Raise(category string, last int) {
	if last >= a.next[category] {
		a.next[category] = last + 1
	}
}

// Issued reports whether ruleID falls inside a sequence this allocator has
// already moved past.
func (a *RuleIDAllocator) Issued(ruleID string) bool {
	category, n, ok := a.parse(ruleID)
	return ok && n < a.next[category]
}

// Sequences returns the highest issued index per category.
func (a *RuleIDAllocator) Sequences() map[string]int {
	out := make(map[string]int, len(a.next))
	for category, n := range a.next {
		if n > 1 {
			out[category] = n - 1
		}
	}
	return out
}

// Next returns the next id for the category.
func (a *RuleIDAllocator) Next(category string) string {
	n := a.next[category]
	if n == 0 {
		n = 1
	}
	a.next[category] = n + 1
	return FormatRuleID(a.prefix, category, n)
}

// Clone returns an independent copy. Callers draw from a clone when the id
// may end up unused and keep the clone only if it was.
func (a *RuleIDAllocator) Clone() *RuleIDAllocator {
	c := &RuleIDAllocator{prefix: a.prefix, next: make(map[string]int, len(a.next))}
	for k, v := range a.next {
		c.next[k] = v
	}
	return c
}

// FormatRuleID renders a rule id with a zero-padded index.
func FormatRuleID(prefix, category string, index int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, category, index)
}
