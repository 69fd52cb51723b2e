package config

import "time"

// Config is the top-level crabby-merge configuration.
type Config struct {
	Bitbucket BitbucketConfig `json:"bitbucket"`
	Jenkins   JenkinsConfig   `json:"jenkins"`
	Scan      ScanConfig      `json:"scan"`
}

// BitbucketConfig holds connection settings for the Bitbucket Server instance.
type BitbucketConfig struct {
	// URL is the base URL of the Bitbucket server, e.g. https://bitbucket.example.com.
	URL string `json:"url"`
	// APIToken authenticates all REST calls as the running identity.
	APIToken string `json:"api_token"`
}

// JenkinsConfig holds credentials and policy for the optional build-retry
// subsystem. The subsystem is active only when username, password, and
// retry trigger are all set.
type JenkinsConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// RetryTrigger is a regex matched against failed build names to decide
	// whether a build is eligible for automatic re-triggering.
	RetryTrigger string `json:"retry_trigger"`
	// RetryLimit caps rebuild attempts per change, counted from Jenkins
	// build history on every run.
	RetryLimit int `json:"retry_limit"`
}

// Enabled reports whether the retry subsystem is configured.
func (j JenkinsConfig) Enabled() bool {
	return j.Username != "" && j.Password != "" && j.RetryTrigger != ""
}

// ScanConfig controls trigger matching and candidate selection for a scan cycle.
// The check_* toggles use *bool so a false value in a config file survives the
// deep merge over non-false defaults.
type ScanConfig struct {
	// MergeTrigger is a regex that must occupy its own line within the
	// searched text to mark a PR ready to merge.
	MergeTrigger     string `json:"merge_trigger"`
	CheckDescription *bool  `json:"check_description"`
	CheckComments    *bool  `json:"check_comments"`
	CheckOwnPRs      *bool  `json:"check_own_prs"`
	CheckApprovedPRs *bool  `json:"check_approved_prs"`
	// MaxParallelRequests bounds concurrent in-flight requests per remote system.
	MaxParallelRequests int `json:"max_parallel_requests"`
	// CycleTimeout bounds a whole scan cycle; candidates unresolved at the
	// deadline are reported as skipped.
	CycleTimeout string `json:"cycle_timeout"`
}

// IsCheckDescriptionEnabled reports whether PR descriptions are searched.
// Defaults to true when not explicitly set.
func (s ScanConfig) IsCheckDescriptionEnabled() bool {
	if s.CheckDescription == nil {
		return true
	}
	return *s.CheckDescription
}

// IsCheckCommentsEnabled reports whether the running identity's own PR
// comments are searched. Defaults to false.
func (s ScanConfig) IsCheckCommentsEnabled() bool {
	if s.CheckComments == nil {
		return false
	}
	return *s.CheckComments
}

// IsCheckOwnPRsEnabled reports whether PRs authored by the running identity
// are considered. Defaults to true.
func (s ScanConfig) IsCheckOwnPRsEnabled() bool {
	if s.CheckOwnPRs == nil {
		return true
	}
	return *s.CheckOwnPRs
}

// IsCheckApprovedPRsEnabled reports whether PRs approved by the running
// identity are considered. Defaults to false.
func (s ScanConfig) IsCheckApprovedPRsEnabled() bool {
	if s.CheckApprovedPRs == nil {
		return false
	}
	return *s.CheckApprovedPRs
}

// ParseCycleTimeout returns the cycle timeout as a time.Duration. Invalid
// values are rejected by Validate; the fallback covers an unset value.
func (s ScanConfig) ParseCycleTimeout() time.Duration {
	d, err := time.ParseDuration(s.CycleTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// boolPtr returns a pointer to the given bool value.
func boolPtr(b bool) *bool {
	return &b
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Jenkins: JenkinsConfig{
			RetryLimit: 10,
		},
		Scan: ScanConfig{
			MergeTrigger:        `^:shipit:$`,
			CheckDescription:    boolPtr(true),
			CheckComments:       boolPtr(false),
			CheckOwnPRs:         boolPtr(true),
			CheckApprovedPRs:    boolPtr(false),
			MaxParallelRequests: 8,
			CycleTimeout:        "10m",
		},
	}
}
