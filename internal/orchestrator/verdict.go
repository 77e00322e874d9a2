package orchestrator

import "strings"

// DefaultApprovalMarker is the review text that signals approval.
const DefaultApprovalMarker = "Approved"

// ReviewJudge decides whether review text approves the code.
type ReviewJudge interface {
	Approved(review string) bool
}

// ExecutionJudge decides whether a sandbox report describes a passing run.
type ExecutionJudge interface {
	Passed(report string) bool
}

// MarkerJudge approves any review containing Marker. Matching is case-sensitive.
type MarkerJudge struct {
	Marker string
}

// Approved implements ReviewJudge.
func (j MarkerJudge) Approved(review string) bool {
	marker := j.Marker
	if marker == "" {
		marker = DefaultApprovalMarker
	}
	return strings.Contains(review, marker)
}

// FailureSubstringJudge fails any report mentioning "failed" or "error" in
// any letter case. Passing tests that print those words count as failures.
type FailureSubstringJudge struct{}

// Passed implements ExecutionJudge.
func (FailureSubstringJudge) Passed(report string) bool {
	lower := strings.ToLower(report)
	return !strings.Contains(lower, "failed") && !strings.Contains(lower, "error")
}
