package decision

import (
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// DefaultSensitivity is the threshold applied when no rule covers a category.
const DefaultSensitivity = 75

// DefaultRule is consulted when no active rule exists for a category.
var DefaultRule = moderation.Rule{
	Active:      true,
	Sensitivity: DefaultSensitivity,
	AutoAction:  moderation.ActionFlagForReview,
}

// StandardRules is the shipped rule configuration: every harmful category is
// removed automatically once confidence reaches 75.
func StandardRules() []moderation.Rule {
	categories := []moderation.Category{
		moderation.CategoryHateSpeech,
		moderation.CategoryHarassment,
		moderation.CategoryExplicit,
		moderation.CategorySpam,
	}
	rules := make([]moderation.Rule, 0, len(categories))
	for _, c := range categories {
		rules = append(rules, moderation.Rule{
			Category:    c,
			Active:      true,
			Sensitivity: DefaultSensitivity,
			AutoAction:  moderation.ActionAutoRemove,
		})
	}
	return rules
}

// RuleSet indexes the active rule for each category.
type RuleSet struct {
	byCategory map[moderation.Category]moderation.Rule
}

// NewRuleSet keeps the first active rule per category; inactive rules are ignored.
func NewRuleSet(rules []moderation.Rule) RuleSet {
	set := RuleSet{byCategory: make(map[moderation.Category]moderation.Rule, len(rules))}
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if _, exists := set.byCategory[rule.Category]; exists {
			continue
		}
		set.byCategory[rule.Category] = rule
	}
	return set
}

// Lookup returns the active rule for the category, or DefaultRule.
func (s RuleSet) Lookup(category moderation.Category) moderation.Rule {
	if rule, ok := s.byCategory[category]; ok {
		return rule
	}
	rule := DefaultRule
	rule.Category = category
	return rule
}

// Len reports how many categories have an active rule.
func (s RuleSet) Len() int {
	return len(s.byCategory)
}

// Decision is the outcome of applying a rule to a classification.
type Decision struct {
	Status  moderation.Status
	Flagged bool
	Rule    moderation.Rule
}

// Engine turns classifications into operational statuses. It holds no
// mutable state; Decide is a pure function of the rule set and its input.
type Engine struct {
	rules RuleSet
}

// NewEngine constructs an engine over the rule set.
func NewEngine(rules RuleSet) Engine {
	return Engine{rules: rules}
}

// Decide applies the category's rule to the classification.
func (e Engine) Decide(c moderation.Classification) Decision {
	rule := e.rules.Lookup(c.Category)
	flagged := c.Confidence >= rule.Sensitivity
	status := moderation.StatusApproved
	if flagged {
		if rule.AutoAction == moderation.ActionAutoRemove {
			status = moderation.StatusRemoved
		} else {
			status = moderation.StatusPending
		}
	}
	return Decision{Status: status, Flagged: flagged, Rule: rule}
}
