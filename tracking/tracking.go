// Package tracking holds the scrape targets (companies), the users that track
// them and their tracking preferences, plus identity resolution for jobs.
package tracking

import (
	"encoding/json"
	"time"
)

// MinRank and MaxRank bound a preference rank
const (
	MinRank = 0
	MaxRank = 100
)

// Preference relates one user to one company they track
type Preference struct {
	UserID     string    `json:"user_id"`
	CompanyID  string    `json:"company_id"`
	Rank       int       `json:"rank"` // higher = more urgent
	IsTracking bool      `json:"is_tracking"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Company is a scrape target
type Company struct {
	ID                   string     `json:"id"`
	DisplayName          string     `json:"display_name"`
	LastSuccessfulScrape *time.Time `json:"last_successful_scrape,omitempty"` // nil = never scraped
	UpdatedAt            time.Time  `json:"updated_at"`
}

// LastScrapeOrEpoch returns the last successful scrape, or the Unix epoch if
// the company was never scraped.
func (c *Company) LastScrapeOrEpoch() time.Time {
	if c.LastSuccessfulScrape == nil {
		return time.Unix(0, 0).UTC()
	}
	return *c.LastSuccessfulScrape
}

// Name returns the display name, falling back to the id
func (c *Company) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ID
}

// User is an operating identity whose CV and profile drive the pipeline
type User struct {
	ID               string          `json:"id"`
	Identity         string          `json:"identity"`
	CVReference      string          `json:"cv_reference"`
	CandidateProfile json.RawMessage `json:"candidate_profile"`
}

// UserContext is what the pipeline needs to know about the user a job runs for
type UserContext struct {
	UserID           string
	Identity         string
	CVReference      string
	CandidateProfile json.RawMessage
}

// Context returns the user's pipeline context
func (u *User) Context() *UserContext {
	profile := u.CandidateProfile
	if len(profile) == 0 {
		profile = json.RawMessage(`{}`)
	}
	return &UserContext{
		UserID:           u.ID,
		Identity:         u.Identity,
		CVReference:      u.CVReference,
		CandidateProfile: profile,
	}
}
