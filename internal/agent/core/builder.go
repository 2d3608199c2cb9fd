package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeroloop/zeroloop/internal/tools"
)

// Builder expands a plan type or a list of free-text step descriptions into
// an executable plan. It never fails: weak input degrades to the search
// tool so every plan remains runnable end to end.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Build creates a plan from a fixed template for the given plan type.
// Unknown plan types get the comprehensive template.
func (b *Builder) Build(planType, userQuery string, context map[string]interface{}) *ExecutionPlan {
	plan := &ExecutionPlan{
		ID:                  uuid.New().String(),
		Status:              PlanPending,
		CurrentStepIndex:    0,
		AccumulatedFindings: make(map[string]string),
		UserRequest:         userQuery,
		PlanType:            planType,
		CreatedAt:           time.Now(),
	}

	switch planType {
	case PlanNewsSearch:
		plan.Title = "News search"
		plan.Description = fmt.Sprintf("Current events lookup for: %s", userQuery)
		plan.Steps = []*PlanStep{
			b.step("Search current headlines", tools.ToolWebSearch, map[string]interface{}{
				"query": userQuery,
			}),
			b.step("Search recent developments", tools.ToolWebSearch, map[string]interface{}{
				"query": userQuery + " latest developments",
			}),
			b.synthesisStep(),
		}
	case PlanRepoAnalysis:
		owner, repo := repoFromContext(userQuery, context)
		plan.Title = "Repository analysis"
		plan.Description = fmt.Sprintf("Analysis of %s/%s", owner, repo)
		plan.Steps = []*PlanStep{
			b.step("Fetch repository metadata", tools.ToolGitHub, map[string]interface{}{
				"action": "repo", "owner": owner, "repo": repo,
			}),
			b.step("Fetch recent commits", tools.ToolGitHub, map[string]interface{}{
				"action": "commits", "owner": owner, "repo": repo,
			}),
			b.step("Fetch open issues", tools.ToolGitHub, map[string]interface{}{
				"action": "issues", "owner": owner, "repo": repo,
			}),
			b.synthesisStep(),
		}
	default:
		plan.Title = "Comprehensive research"
		plan.Description = fmt.Sprintf("Multi-source research for: %s", userQuery)
		plan.Steps = []*PlanStep{
			b.step("Search background information", tools.ToolWebSearch, map[string]interface{}{
				"query": userQuery,
			}),
			b.step("Search recent coverage", tools.ToolWebSearch, map[string]interface{}{
				"query": userQuery + " recent analysis",
			}),
			b.step("Search stored knowledge", tools.ToolKnowledge, map[string]interface{}{
				"query": userQuery,
			}),
			b.synthesisStep(),
		}
	}
	return plan
}

// BuildFromSteps creates a plan from model-suggested free-text steps. Each
// description gets a tool by keyword inference and a query by stripping the
// leading imperative verb. A trailing synthesis step is always appended.
func (b *Builder) BuildFromSteps(suggested []string, userQuery string) *ExecutionPlan {
	plan := &ExecutionPlan{
		ID:                  uuid.New().String(),
		Title:               "Multi-step plan",
		Description:         fmt.Sprintf("Suggested plan for: %s", userQuery),
		Status:              PlanPending,
		CurrentStepIndex:    0,
		IsAdaptive:          true,
		AccumulatedFindings: make(map[string]string),
		UserRequest:         userQuery,
		PlanType:            PlanGeneric,
		CreatedAt:           time.Now(),
	}

	for _, desc := range suggested {
		desc = strings.TrimSpace(desc)
		if desc == "" {
			continue
		}
		plan.Steps = append(plan.Steps, b.inferStep(desc))
	}
	if len(plan.Steps) == 0 {
		plan.Steps = append(plan.Steps, b.step("Search for information", tools.ToolWebSearch, map[string]interface{}{
			"query": userQuery,
		}))
	}
	plan.Steps = append(plan.Steps, b.synthesisStep())
	return plan
}

// AdaptiveSteps builds insertable steps from adaptation-analysis
// descriptions, capped at two per insertion.
func (b *Builder) AdaptiveSteps(descriptions []string, reasoning string) []*PlanStep {
	if len(descriptions) > 2 {
		descriptions = descriptions[:2]
	}
	var steps []*PlanStep
	for _, desc := range descriptions {
		desc = strings.TrimSpace(desc)
		if desc == "" {
			continue
		}
		step := b.inferStep(desc)
		step.Reasoning = reasoning
		steps = append(steps, step)
	}
	return steps
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// inferStep picks a tool for a free-text step description by keyword scan
// and derives the query by stripping the leading imperative verb. No
// positive signal means the search tool.
func (b *Builder) inferStep(desc string) *PlanStep {
	lower := strings.ToLower(desc)
	query := stripImperative(desc)

	switch {
	case urlPattern.MatchString(desc) && containsAny(lower, "scrape", "fetch", "read", "extract"):
		return b.step(desc, tools.ToolScraper, map[string]interface{}{
			"url": urlPattern.FindString(desc),
		})
	case containsAny(lower, "github", "repo", "repository", "commit", "code"):
		params := map[string]interface{}{"action": "repo"}
		if owner, repo, ok := repoRefFromText(desc); ok {
			params["owner"] = owner
			params["repo"] = repo
		}
		return b.step(desc, tools.ToolGitHub, params)
	case containsAny(lower, "jira", "ticket", "sprint", "backlog"):
		return b.step(desc, tools.ToolJira, map[string]interface{}{
			"query": query,
		})
	case containsAny(lower, "knowledge", "remember", "recall", "notes", "previous conversation"):
		return b.step(desc, tools.ToolKnowledge, map[string]interface{}{
			"query": query,
		})
	default:
		return b.step(desc, tools.ToolWebSearch, map[string]interface{}{
			"query": query,
		})
	}
}

func (b *Builder) step(description, tool string, params map[string]interface{}) *PlanStep {
	return &PlanStep{
		ID:          uuid.New().String(),
		Description: description,
		Tool:        tool,
		Parameters:  params,
		Status:      StepPending,
	}
}

func (b *Builder) synthesisStep() *PlanStep {
	return &PlanStep{
		ID:          uuid.New().String(),
		Description: "Organize and synthesize findings",
		Tool:        tools.ToolSynthesis,
		Status:      StepPending,
	}
}

var imperativeVerbs = map[string]bool{
	"search": true, "find": true, "look": true, "research": true,
	"check": true, "get": true, "fetch": true, "gather": true,
	"identify": true, "analyze": true, "analyse": true, "review": true,
	"summarize": true, "summarise": true, "list": true, "explore": true,
	"investigate": true, "collect": true, "retrieve": true, "discover": true,
}

var fillerWords = map[string]bool{
	"for": true, "the": true, "a": true, "an": true, "about": true,
	"up": true, "on": true, "into": true,
}

// stripImperative removes a leading imperative verb and its filler words so
// "Search for the latest Go release" becomes "latest Go release".
func stripImperative(desc string) string {
	words := strings.Fields(desc)
	if len(words) == 0 {
		return desc
	}
	i := 0
	if imperativeVerbs[strings.ToLower(words[i])] {
		i++
		for i < len(words) && fillerWords[strings.ToLower(words[i])] {
			i++
		}
	}
	if i >= len(words) {
		return desc
	}
	return strings.Join(words[i:], " ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// repoFromContext resolves the owner/repo pair for a repository plan from
// the builder context or the query text itself.
func repoFromContext(userQuery string, context map[string]interface{}) (string, string) {
	if context != nil {
		owner, _ := context["owner"].(string)
		repo, _ := context["repo"].(string)
		if owner != "" && repo != "" {
			return owner, repo
		}
	}
	if owner, repo, ok := repoRefFromText(userQuery); ok {
		return owner, repo
	}
	return "", ""
}
