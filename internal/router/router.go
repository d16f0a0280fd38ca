// Package router resolves an utterance and context to a skill id, or to a
// clarification question when it is not confident enough.
package router

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/xingyang1991/nightfall/spec"
)

// ExplicitPrefix introduces an explicit skill call: "/skill <id>".
const ExplicitPrefix = "/skill "

type Config struct {
	// MinTopScore below which the router asks instead of routing.
	MinTopScore float64 `yaml:"minTopScore"`
	// MinGap between the first and second ranked skill.
	MinGap float64 `yaml:"minGap"`
	// ShortUtterance is the rune length at or below which the router
	// always clarifies.
	ShortUtterance int     `yaml:"shortUtterance"`
	CosineWeight   float64 `yaml:"cosineWeight"`
	KeywordBoost   float64 `yaml:"keywordBoost"`
	AffinityBoost  float64 `yaml:"affinityBoost"`
	RuleConfidence float64 `yaml:"ruleConfidence"`
	MaxChoices     int     `yaml:"maxChoices"`
	LabelRunes     int     `yaml:"labelRunes"`
	FallbackID     string  `yaml:"fallbackId"`
	FallbackLabel  string  `yaml:"fallbackLabel"`
}

func DefaultConfig() Config {
	return Config{
		MinTopScore:    0.42,
		MinGap:         0.12,
		ShortUtterance: 6,
		CosineWeight:   0.75,
		KeywordBoost:   0.18,
		AffinityBoost:  0.06,
		RuleConfidence: 0.9,
		MaxChoices:     3,
		LabelRunes:     24,
		FallbackID:     "safe_default",
		FallbackLabel:  "Something safe",
	}
}

// Rule routes any utterance containing one of Phrases to Skill.
type Rule struct {
	Skill   string   `yaml:"skill"`
	Phrases []string `yaml:"phrases"`
}

// Decision is either Route or Clarify.
type Decision interface {
	isDecision()
}

type Route struct {
	SkillID    string  `json:"skillId"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type Choice struct {
	Label   string  `json:"label"`
	SkillID string  `json:"skillId"`
	Score   float64 `json:"score"`
}

// Clarify asks the user to pick. Labels are display text only; resolve a
// picked label through ChoiceMap.
type Clarify struct {
	Choices    []Choice          `json:"choices"`
	ChoiceMap  map[string]string `json:"choiceMap"`
	Confidence float64           `json:"confidence"`
}

func (Route) isDecision()   {}
func (Clarify) isDecision() {}

// Ranked is one scored skill.
type Ranked struct {
	SkillID string
	Title   string
	Score   float64
}

type Router struct {
	cfg   Config
	rules []Rule

	mu   sync.Mutex
	memo *index
}

func New(cfg Config, rules []Rule) *Router {
	return &Router{cfg: cfg, rules: slices.Clone(rules)}
}

func (r *Router) Config() Config { return r.cfg }

// Route resolves utterance against skills. Resolution order is explicit
// call, rules, semantic ranking, then the fallback id; a short utterance
// always yields Clarify.
func (r *Router) Route(utterance string, signals spec.ContextSignals, skills []spec.SkillManifest) Decision {
	u := strings.TrimSpace(utterance)
	registered := make(map[string]spec.SkillManifest, len(skills))
	for _, m := range skills {
		registered[m.ID] = m
	}
	_, hasFallback := registered[r.cfg.FallbackID]

	if utf8.RuneCountInString(u) <= r.cfg.ShortUtterance {
		return r.clarify(r.Rank(u, signals, skills), hasFallback)
	}

	if rest, ok := strings.CutPrefix(u, ExplicitPrefix); ok {
		if id := strings.TrimSpace(rest); id != "" {
			if _, ok := registered[id]; ok {
				return Route{SkillID: id, Reason: "explicit call", Confidence: 1}
			}
		}
	}

	lower := strings.ToLower(u)
	for _, rule := range r.rules {
		if _, ok := registered[rule.Skill]; !ok {
			continue
		}
		for _, p := range rule.Phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(lower, p) {
				return Route{SkillID: rule.Skill, Reason: fmt.Sprintf("rule %q", p), Confidence: r.cfg.RuleConfidence}
			}
		}
	}

	ranked := r.Rank(u, signals, skills)
	if len(ranked) == 0 {
		return Route{SkillID: r.cfg.FallbackID, Reason: "fallback", Confidence: 0}
	}
	top := ranked[0]
	gap := top.Score
	if len(ranked) > 1 {
		gap = top.Score - ranked[1].Score
	}
	if top.Score < r.cfg.MinTopScore || gap < r.cfg.MinGap {
		return r.clarify(ranked, hasFallback)
	}
	return Route{
		SkillID:    top.SkillID,
		Reason:     fmt.Sprintf("semantic %.2f", top.Score),
		Confidence: min(top.Score, 1),
	}
}

// Rank scores every skill except the fallback, best first. Ties are broken
// by id.
func (r *Router) Rank(utterance string, signals spec.ContextSignals, skills []spec.SkillManifest) []Ranked {
	ix := r.index(skills)
	q := ix.vectorize(Tokenize(utterance))
	lower := strings.ToLower(utterance)
	active := activeAffinities(signals)

	out := make([]Ranked, 0, len(skills))
	for _, m := range skills {
		if m.ID == r.cfg.FallbackID {
			continue
		}
		score := r.cfg.CosineWeight * cosine(q, ix.vecs[m.ID])
		score += r.affinity(ix.text[m.ID], active)
		if keywordHit(lower, m) {
			score += r.cfg.KeywordBoost
		}
		out = append(out, Ranked{SkillID: m.ID, Title: m.Title, Score: score})
	}
	slices.SortFunc(out, func(a, b Ranked) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.SkillID, b.SkillID)
	})
	return out
}

// index returns the memoized index, rebuilding it only when the id set
// changed.
func (r *Router) index(skills []spec.SkillManifest) *index {
	key := indexKey(skills)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memo == nil || r.memo.key != key {
		r.memo = buildIndex(skills)
	}
	return r.memo
}

func keywordHit(lowerUtterance string, m spec.SkillManifest) bool {
	for _, set := range [][]string{m.Intents, m.Keywords} {
		for _, k := range set {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(lowerUtterance, k) {
				return true
			}
		}
	}
	return false
}

// clarify offers the top ranked skills, plus the fallback when it is
// registered. With nothing to offer it routes to the fallback id, which the
// caller resolves to its canned bundle.
func (r *Router) clarify(ranked []Ranked, hasFallback bool) Decision {
	if len(ranked) == 0 && !hasFallback {
		return Route{SkillID: r.cfg.FallbackID, Reason: "fallback", Confidence: 0}
	}
	c := Clarify{ChoiceMap: map[string]string{}}
	if len(ranked) > 0 {
		c.Confidence = max(ranked[0].Score, 0)
	}
	add := func(title, id string, score float64) {
		label := r.uniqueLabel(title, c.ChoiceMap)
		c.Choices = append(c.Choices, Choice{Label: label, SkillID: id, Score: score})
		c.ChoiceMap[label] = id
	}
	for _, rk := range ranked[:min(len(ranked), r.cfg.MaxChoices)] {
		title := rk.Title
		if strings.TrimSpace(title) == "" {
			title = rk.SkillID
		}
		add(title, rk.SkillID, rk.Score)
	}
	if hasFallback {
		add(r.cfg.FallbackLabel, r.cfg.FallbackID, 0)
	}
	return c
}

func (r *Router) uniqueLabel(title string, taken map[string]string) string {
	n := r.cfg.LabelRunes
	label := clipRunes(strings.TrimSpace(title), n)
	if _, dup := taken[label]; !dup {
		return label
	}
	for i := 2; ; i++ {
		suffix := fmt.Sprintf(" %d", i)
		cand := strings.TrimSpace(clipRunes(label, n-utf8.RuneCountInString(suffix))) + suffix
		if _, dup := taken[cand]; !dup {
			return cand
		}
	}
}

func clipRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
