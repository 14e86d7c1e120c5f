// Package assistant implements the builder's AI assistant panel: request
// classification, the two-stage planning/coding pipeline, the chat transcript
// and the per-tab panel registry with its HTTP surface.
package assistant

import (
	"strings"

	"github.com/ashureev/zerocode/internal/domain"
)

var (
	imageKeywords  = []string{"image", "picture"}
	codingKeywords = []string{"code", "implement"}
	buildKeywords  = []string{"website", "landing page", "app", "build", "create", "design"}
)

// Classify maps raw user input to an intent and decides whether the request
// warrants the two-stage planning then coding pipeline.
//
// Matching is case-insensitive substring matching. Image keywords win over
// everything else and suppress the two-stage pipeline.
func Classify(raw string) domain.Classification {
	s := strings.ToLower(raw)

	intent := domain.IntentPlanning
	switch {
	case containsAny(s, imageKeywords):
		intent = domain.IntentImage
	case containsAny(s, codingKeywords):
		intent = domain.IntentCoding
	}

	return domain.Classification{
		Intent:           intent,
		RequiresTwoStage: intent != domain.IntentImage && containsAny(s, buildKeywords),
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
