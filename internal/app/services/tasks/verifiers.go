package tasks

import (
	"fmt"
	"strconv"
	"strings"

	domain "github.com/Elevate-App/progression_layer/internal/app/domain/task"
)

// Built-in task kinds.
const (
	KindGoalCount   = "goal_count"
	KindFeatureUsed = "feature_used"
	KindIdentity    = "identity"
)

func registerBuiltins(s *Service) {
	s.Register(KindGoalCount, VerifierFunc(verifyGoalCount))
	s.Register(KindFeatureUsed, VerifierFunc(verifyFeatureUsed))
	s.Register(KindIdentity, VerifierFunc(verifyIdentity))
}

// verifyGoalCount checks the user has at least the number of goals named by
// the definition's "min_goals" condition (default 2).
func verifyGoalCount(def domain.Definition, snap Snapshot) (bool, string) {
	min := 2
	if raw, ok := def.Condition["min_goals"]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			min = parsed
		}
	}
	if snap.GoalCount >= min {
		return true, fmt.Sprintf("you have %d goals", snap.GoalCount)
	}
	return false, fmt.Sprintf("create at least %d goals to complete this challenge", min)
}

// verifyFeatureUsed checks the user has exercised the feature named by the
// definition's "feature" condition.
func verifyFeatureUsed(def domain.Definition, snap Snapshot) (bool, string) {
	feature := strings.TrimSpace(def.Condition["feature"])
	if feature == "" {
		return false, "challenge misconfigured: no feature named"
	}
	if snap.FeaturesUsed[feature] {
		return true, fmt.Sprintf("you used the %s feature", feature)
	}
	return false, fmt.Sprintf("try the %s feature first", feature)
}

// verifyIdentity checks a profile field named by the definition's "field"
// condition is present and non-empty.
func verifyIdentity(def domain.Definition, snap Snapshot) (bool, string) {
	field := strings.TrimSpace(def.Condition["field"])
	if field == "" {
		field = "username"
	}
	if strings.TrimSpace(snap.Profile[field]) != "" {
		return true, "profile looks good"
	}
	return false, fmt.Sprintf("fill in your %s to complete this challenge", field)
}
