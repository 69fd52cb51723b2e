package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
)

func TestSelectBasePolicy(t *testing.T) {
	// Running as alice with both relaxations off: own PRs and PRs alice
	// already approved are excluded, everything else stays.
	prs := []bitbucket.PullRequest{
		pr(1, "alice"),
		pr(2, "bob", "alice"),
		pr(3, "bob"),
	}

	selected := Select(prs, SelectionPolicy{}, "alice")

	assert.Len(t, selected, 1)
	assert.Equal(t, 3, selected[0].ID)
}

func TestSelectTogglesAreAdditive(t *testing.T) {
	prs := []bitbucket.PullRequest{
		pr(1, "alice"),
		pr(2, "bob", "alice"),
		pr(3, "bob"),
	}

	base := Select(prs, SelectionPolicy{}, "alice")

	tests := []struct {
		name   string
		policy SelectionPolicy
		ids    []int
	}{
		{"own", SelectionPolicy{CheckOwnPRs: true}, []int{1, 3}},
		{"approved", SelectionPolicy{CheckApprovedPRs: true}, []int{2, 3}},
		{"both", SelectionPolicy{CheckOwnPRs: true, CheckApprovedPRs: true}, []int{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected := Select(prs, tt.policy, "alice")
			var ids []int
			for _, p := range selected {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.ids, ids)
			// Every base candidate survives every relaxation.
			for _, b := range base {
				assert.Contains(t, ids, b.ID)
			}
		})
	}
}

func TestSelectOwnApprovalDoesNotExcludeOwnPR(t *testing.T) {
	// Approval only matters on other people's PRs. A self-authored PR that
	// somehow carries a self-approval is governed by the own-PR toggle.
	prs := []bitbucket.PullRequest{pr(1, "alice", "alice")}

	assert.Empty(t, Select(prs, SelectionPolicy{CheckApprovedPRs: false}, "alice"))
	assert.Len(t, Select(prs, SelectionPolicy{CheckOwnPRs: true}, "alice"), 1)
}

func TestSelectPreservesOrderAndInput(t *testing.T) {
	prs := []bitbucket.PullRequest{pr(5, "bob"), pr(2, "carol"), pr(9, "bob")}

	selected := Select(prs, SelectionPolicy{}, "alice")

	assert.Equal(t, []int{5, 2, 9}, []int{selected[0].ID, selected[1].ID, selected[2].ID})
	// Input slice untouched.
	assert.Len(t, prs, 3)
}
