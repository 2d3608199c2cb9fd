package core

import (
	"fmt"
	"regexp"
	"strings"
)

// Detector classifies a user message with layered pattern heuristics.
// Category order matters: the first matching category wins, so the specific
// categories are checked before the generic complexity heuristics.
type Detector struct {
	HistoryWindow int
}

// NewDetector creates a deterministic detector. window bounds how many
// recent history entries are scanned for repository context.
func NewDetector(window int) *Detector {
	if window <= 0 {
		window = 10
	}
	return &Detector{HistoryWindow: window}
}

var (
	newsPattern = regexp.MustCompile(`(?i)(\bnews\b|\bheadlines?\b|\bcurrent events\b|\bbreaking\b|what('s| is) happening)`)
	repoPattern = regexp.MustCompile(`(?i)(\brepo(s|sitory|sitories)?\b|\bcodebase\b|\bcommits?\b|\bpull requests?\b|\bgithub\b)`)
	richPattern = regexp.MustCompile(`(?i)(\bresearch\b|\bcompare\b|\bcomparison\b|\bcomprehensive\b|\bin[- ]depth\b|\bdeep dive\b|\binvestigate\b|\bpros and cons\b)`)

	conjunctionPattern = regexp.MustCompile(`(?i)\b(and also|and then|as well as|after that|followed by)\b`)

	repoURLPattern  = regexp.MustCompile(`github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)`)
	repoBarePattern = regexp.MustCompile(`\b([A-Za-z0-9-]+)/([A-Za-z0-9_.-]+)\b`)
)

// Detect classifies message against the ordered category list. Repository
// analysis additionally requires an extractable owner/repo reference in the
// message or recent history; without one the pattern match is suppressed so
// generic "explain this" questions do not trigger repository plans.
func (d *Detector) Detect(message string, history []Message) Classification {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Classification{ShouldUsePlan: false, Confidence: 0.4, Reasoning: "empty message"}
	}

	if newsPattern.MatchString(trimmed) {
		return Classification{
			ShouldUsePlan: true,
			PlanType:      PlanNewsSearch,
			Confidence:    0.85,
			Reasoning:     "message asks about news or current events",
		}
	}

	if repoPattern.MatchString(trimmed) {
		if owner, repo, ok := ExtractRepoRef(trimmed, history, d.HistoryWindow); ok {
			return Classification{
				ShouldUsePlan: true,
				PlanType:      PlanRepoAnalysis,
				Confidence:    0.9,
				Reasoning:     fmt.Sprintf("message references repository %s/%s", owner, repo),
			}
		}
		// Fall through: repository wording without a concrete repo reference.
	}

	if richPattern.MatchString(trimmed) {
		return Classification{
			ShouldUsePlan: true,
			PlanType:      PlanComprehensive,
			Confidence:    0.8,
			Reasoning:     "message asks for research or comparison across sources",
		}
	}

	if c, ok := d.complexityHeuristics(trimmed); ok {
		return c
	}

	return Classification{
		ShouldUsePlan: false,
		Confidence:    0.4,
		Reasoning:     "no multi-step signals detected",
	}
}

// complexityHeuristics catches structurally complex requests that match no
// named category: several distinct questions, or a long request chaining
// subtasks with coordinating conjunctions.
func (d *Detector) complexityHeuristics(message string) (Classification, bool) {
	questions := strings.Count(message, "?")
	words := len(strings.Fields(message))

	if questions >= 2 && words > 8 {
		return Classification{
			ShouldUsePlan: true,
			PlanType:      PlanGeneric,
			Confidence:    0.6,
			Reasoning:     "message contains multiple distinct questions",
		}, true
	}
	if conjunctionPattern.MatchString(message) && words > 12 {
		return Classification{
			ShouldUsePlan: true,
			PlanType:      PlanGeneric,
			Confidence:    0.6,
			Reasoning:     "message chains multiple subtasks",
		}, true
	}
	return Classification{}, false
}

// ExtractRepoRef pulls a GitHub owner/repo reference from the message or,
// failing that, from the most recent history entries up to window. Bare
// owner/repo tokens only count when the surrounding text mentions GitHub,
// since the pattern is otherwise indistinguishable from paths and fractions.
func ExtractRepoRef(message string, history []Message, window int) (string, string, bool) {
	if owner, repo, ok := repoRefFromText(message); ok {
		return owner, repo, true
	}
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	for i := len(history) - 1; i >= start; i-- {
		if owner, repo, ok := repoRefFromText(history[i].Content); ok {
			return owner, repo, true
		}
	}
	return "", "", false
}

func repoRefFromText(text string) (string, string, bool) {
	if m := repoURLPattern.FindStringSubmatch(text); m != nil {
		return m[1], strings.TrimSuffix(m[2], ".git"), true
	}
	if strings.Contains(strings.ToLower(text), "github") {
		if m := repoBarePattern.FindStringSubmatch(text); m != nil {
			return m[1], strings.TrimSuffix(m[2], ".git"), true
		}
	}
	return "", "", false
}
