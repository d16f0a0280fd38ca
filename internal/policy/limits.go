// Package policy enforces deterministic post-generation rules on skill
// output. Every change it makes is audited.
package policy

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Limits are the length and count maxima applied to bundles and candidates.
type Limits struct {
	Title         int `json:"title" yaml:"title"`
	Reason        int `json:"reason" yaml:"reason"`
	Checklist     int `json:"checklist" yaml:"checklist"`
	RiskFlags     int `json:"riskFlags" yaml:"riskFlags"`
	AmbientTokens int `json:"ambientTokens" yaml:"ambientTokens"`
	CandidatePool int `json:"candidatePool" yaml:"candidatePool"`
	Gallery       int `json:"gallery" yaml:"gallery"`

	CandidateTitle int `json:"candidateTitle" yaml:"candidateTitle"`
	CandidateTag   int `json:"candidateTag" yaml:"candidateTag"`
	CandidateDesc  int `json:"candidateDesc" yaml:"candidateDesc"`
}

func DefaultLimits() Limits {
	return Limits{
		Title:          24,
		Reason:         110,
		Checklist:      5,
		RiskFlags:      2,
		AmbientTokens:  4,
		CandidatePool:  18,
		Gallery:        6,
		CandidateTitle: 24,
		CandidateTag:   12,
		CandidateDesc:  80,
	}
}

// withDefaults replaces non-positive fields with their defaults.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&l.Title, d.Title)
	fill(&l.Reason, d.Reason)
	fill(&l.Checklist, d.Checklist)
	fill(&l.RiskFlags, d.RiskFlags)
	fill(&l.AmbientTokens, d.AmbientTokens)
	fill(&l.CandidatePool, d.CandidatePool)
	fill(&l.Gallery, d.Gallery)
	fill(&l.CandidateTitle, d.CandidateTitle)
	fill(&l.CandidateTag, d.CandidateTag)
	fill(&l.CandidateDesc, d.CandidateDesc)
	return l
}

// ClipText trims s and truncates it to at most n runes. ClipText is
// idempotent.
func ClipText(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

func count(n int) string { return strconv.Itoa(n) }
