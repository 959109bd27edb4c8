package models

import "strings"

// ReviewAction is a reviewer command on an assignment.
type ReviewAction string

const (
	ReviewActionApprove ReviewAction = "approve"
	ReviewActionReject  ReviewAction = "reject"
	ReviewActionSubmit  ReviewAction = "submit"
	ReviewActionRecheck ReviewAction = "recheck"
)

// ParseReviewAction converts a raw path segment into an action.
func ParseReviewAction(raw string) (ReviewAction, bool) {
	action := ReviewAction(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case ReviewActionApprove, ReviewActionReject, ReviewActionSubmit, ReviewActionRecheck:
		return action, true
	default:
		return "", false
	}
}

// RecheckNote is attached when a HOD sends an assignment back to its reviewer.
const RecheckNote = "HOD has sent this assignment back for rechecking."
