package bitbucket

// PullRequest is an immutable snapshot of an open pull request taken at the
// start of a scan cycle. Re-evaluation means re-fetching; snapshots are
// never mutated in place.
type PullRequest struct {
	// ID is the numeric pull request identifier within its repository.
	ID int
	// ProjectKey and RepoSlug route REST calls to the owning repository.
	ProjectKey string
	RepoSlug   string
	Title      string
	// Author is the username of the PR author.
	Author string
	// ApprovedBy lists the usernames of reviewers who have approved.
	ApprovedBy []string
	// Version is the PR version required by the merge endpoint for
	// optimistic concurrency.
	Version int
	// Commit is the latest commit hash of the source branch. Build
	// statuses and rebuild history are keyed by this hash.
	Commit string
	// URL is the web URL of the pull request, used in log lines.
	URL string
}

// Comment is a single pull request comment.
type Comment struct {
	// Author is the username of the comment author.
	Author string
	Text   string
}

// BuildState is the reported state of a build associated with a commit.
type BuildState string

const (
	BuildSuccessful BuildState = "SUCCESSFUL"
	BuildFailed     BuildState = "FAILED"
	BuildInProgress BuildState = "INPROGRESS"
)

// BuildStatus summarizes one build job attached to a commit.
type BuildStatus struct {
	// Name is the build's display name, matched against the retry trigger.
	Name  string
	State BuildState
	// URL points at the build in the build system; the retry engine parses
	// it to locate the owning job.
	URL string
}

// MergeOutcome classifies the result of a merge attempt.
type MergeOutcome int

const (
	// OutcomeError means the attempt failed before the server gave a verdict.
	OutcomeError MergeOutcome = iota
	// OutcomeMerged means the pull request was merged.
	OutcomeMerged
	// OutcomeConflict covers merge conflicts and server-side vetoes
	// (e.g. required builds not green).
	OutcomeConflict
	// OutcomeAlreadyMerged means another actor merged the PR first.
	OutcomeAlreadyMerged
	// OutcomeForbidden means the running identity lacks merge permission.
	OutcomeForbidden
)

// String returns a human-readable outcome for log lines and summaries.
func (o MergeOutcome) String() string {
	switch o {
	case OutcomeMerged:
		return "merged"
	case OutcomeConflict:
		return "conflict"
	case OutcomeAlreadyMerged:
		return "already-merged"
	case OutcomeForbidden:
		return "forbidden"
	default:
		return "error"
	}
}

// restPullRequest maps to the Bitbucket Server REST pull request JSON.
type restPullRequest struct {
	ID          int               `json:"id"`
	Version     int               `json:"version"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	State       string            `json:"state"`
	Author      restParticipant   `json:"author"`
	Reviewers   []restParticipant `json:"reviewers"`
	FromRef     restRef           `json:"fromRef"`
	ToRef       restRef           `json:"toRef"`
	Links       restLinks         `json:"links"`
}

type restParticipant struct {
	User     restUser `json:"user"`
	Approved bool     `json:"approved"`
	Role     string   `json:"role"`
	Status   string   `json:"status"`
}

type restUser struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type restRef struct {
	ID           string `json:"id"`
	LatestCommit string `json:"latestCommit"`
	Repository   struct {
		Slug    string `json:"slug"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"repository"`
}

type restLinks struct {
	Self []struct {
		Href string `json:"href"`
	} `json:"self"`
}

// restActivity is one entry of the pull request activities feed. Only
// COMMENTED entries carry a comment.
type restActivity struct {
	Action  string `json:"action"`
	Comment *struct {
		Text   string   `json:"text"`
		Author restUser `json:"author"`
	} `json:"comment"`
}

// restMergeCheck maps to the GET merge precheck response.
type restMergeCheck struct {
	CanMerge   bool `json:"canMerge"`
	Conflicted bool `json:"conflicted"`
	Vetoes     []struct {
		SummaryMessage  string `json:"summaryMessage"`
		DetailedMessage string `json:"detailedMessage"`
	} `json:"vetoes"`
}

// restBuildStatus maps to one entry of the build-status API.
type restBuildStatus struct {
	State BuildState `json:"state"`
	Key   string     `json:"key"`
	Name  string     `json:"name"`
	URL   string     `json:"url"`
}

// restError maps to the Bitbucket error envelope.
type restError struct {
	Errors []struct {
		Message       string `json:"message"`
		ExceptionName string `json:"exceptionName"`
	} `json:"errors"`
}
