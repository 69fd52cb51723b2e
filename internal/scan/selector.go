package scan

import (
	"slices"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
)

// SelectionPolicy widens the base candidate set. The toggles are additive
// relaxations: enabling one never excludes a candidate the base criteria
// would have kept.
type SelectionPolicy struct {
	// CheckOwnPRs includes pull requests authored by the running identity.
	CheckOwnPRs bool
	// CheckApprovedPRs includes pull requests the running identity has
	// approved as a reviewer.
	CheckApprovedPRs bool
}

// Select filters the open pull requests down to the candidates the policy
// admits for the identity self. Pure, deterministic, and order-preserving;
// no network calls.
func Select(prs []bitbucket.PullRequest, policy SelectionPolicy, self string) []bitbucket.PullRequest {
	selected := make([]bitbucket.PullRequest, 0, len(prs))
	for _, pr := range prs {
		authoredBySelf := pr.Author == self
		if authoredBySelf && !policy.CheckOwnPRs {
			continue
		}
		if !authoredBySelf && slices.Contains(pr.ApprovedBy, self) && !policy.CheckApprovedPRs {
			continue
		}
		selected = append(selected, pr)
	}
	return selected
}
