package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/watchtower/db"
	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/internal/util"
)

// Store reads and writes companies, users and tracking preferences
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// NewStore creates a tracking store over a SQLite database
func NewStore(conn *sql.DB) *Store {
	return NewStoreWithDialect(conn, db.SQLite)
}

// NewStoreWithDialect creates a tracking store for the given SQL dialect
func NewStoreWithDialect(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect, now: time.Now}
}

// WithClock replaces the store's time source
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// ValidateRank returns an invalid-request error for ranks outside 0..100
func ValidateRank(rank int) error {
	if rank < MinRank || rank > MaxRank {
		return errors.WrapInvalidRequest(errors.Newf("rank %d outside %d..%d", rank, MinRank, MaxRank), "rank")
	}
	return nil
}

// ListActivePreferences returns every preference with is_tracking set,
// most urgent first. Ties break on user then company so ticks are deterministic.
func (s *Store) ListActivePreferences(ctx context.Context) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT user_id, company_id, rank, is_tracking, updated_at
		FROM tracking_preferences
		WHERE is_tracking = ?
		ORDER BY rank DESC, user_id ASC, company_id ASC`), true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tracking preferences")
	}
	defer rows.Close()
	return scanPreferences(rows)
}

// ListPreferences returns all preferences, optionally for one company
func (s *Store) ListPreferences(ctx context.Context, companyID string) ([]Preference, error) {
	query := `SELECT user_id, company_id, rank, is_tracking, updated_at FROM tracking_preferences`
	var args []interface{}
	if companyID != "" {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY company_id ASC, rank DESC, user_id ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tracking preferences")
	}
	defer rows.Close()
	return scanPreferences(rows)
}

func scanPreferences(rows *sql.Rows) ([]Preference, error) {
	var prefs []Preference
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.UserID, &p.CompanyID, &p.Rank, &p.IsTracking, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan tracking preference")
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating tracking preferences")
	}
	return prefs, nil
}

// SetPreference creates or replaces the preference for (user, company)
func (s *Store) SetPreference(ctx context.Context, p Preference) error {
	if p.UserID == "" || p.CompanyID == "" {
		return errors.WrapInvalidRequest(errors.New("user id and company id are required"), "set preference")
	}
	if err := ValidateRank(p.Rank); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO tracking_preferences (user_id, company_id, rank, is_tracking, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, company_id) DO UPDATE SET
			rank = excluded.rank,
			is_tracking = excluded.is_tracking,
			updated_at = excluded.updated_at`),
		p.UserID, p.CompanyID, p.Rank, p.IsTracking, s.now().UTC())
	if err != nil {
		err = errors.Wrap(err, "failed to set tracking preference")
		return errors.WithDetailf(err, "User ID: %s, Company ID: %s", p.UserID, p.CompanyID)
	}
	return nil
}

// TopTrackerForCompany returns the user tracking companyID with the highest rank
func (s *Store) TopTrackerForCompany(ctx context.Context, companyID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT user_id FROM tracking_preferences
		WHERE company_id = ? AND is_tracking = ?
		ORDER BY rank DESC, user_id ASC
		LIMIT 1`), companyID, true).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.WrapNotFound(errors.Newf("no active tracker for company %s", companyID), "top tracker")
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to find tracker for company %s", companyID)
	}
	return userID, nil
}

// GetCompany returns the company, or an ErrNotFound-marked error
func (s *Store) GetCompany(ctx context.Context, id string) (*Company, error) {
	var c Company
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, display_name, last_successful_scrape, updated_at FROM companies WHERE id = ?`), id).
		Scan(&c.ID, &c.DisplayName, &last, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapNotFound(errors.Newf("company %s", id), "get company")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get company %s", id)
	}
	if last.Valid {
		c.LastSuccessfulScrape = util.UTC(last.Time)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// ListCompanies returns all companies ordered by id
func (s *Store) ListCompanies(ctx context.Context) ([]*Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, last_successful_scrape, updated_at FROM companies ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list companies")
	}
	defer rows.Close()

	var companies []*Company
	for rows.Next() {
		var c Company
		var last sql.NullTime
		if err := rows.Scan(&c.ID, &c.DisplayName, &last, &c.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan company")
		}
		if last.Valid {
			c.LastSuccessfulScrape = util.UTC(last.Time)
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		companies = append(companies, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating companies")
	}
	return companies, nil
}

// UpsertCompany registers a company or renames an existing one.
// last_successful_scrape is never touched here.
func (s *Store) UpsertCompany(ctx context.Context, id, displayName string) error {
	if id == "" {
		return errors.WrapInvalidRequest(errors.New("company id cannot be empty"), "upsert company")
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO companies (id, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			updated_at = excluded.updated_at`),
		id, displayName, now, now)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert company %s", id)
	}
	return nil
}

// MarkScraped advances last_successful_scrape to at. The timestamp only moves
// forward: an older value is ignored, so overlapping jobs cannot rewind it.
func (s *Store) MarkScraped(ctx context.Context, companyID string, at time.Time) error {
	at = at.UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE companies SET last_successful_scrape = ?, updated_at = ?
		WHERE id = ? AND (last_successful_scrape IS NULL OR last_successful_scrape < ?)`),
		at, s.now().UTC(), companyID, at)
	if err != nil {
		return errors.Wrapf(err, "failed to mark company %s scraped", companyID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, s.q(`SELECT EXISTS(SELECT 1 FROM companies WHERE id = ?)`), companyID).Scan(&exists)
	if err != nil {
		return errors.Wrapf(err, "failed to check company %s", companyID)
	}
	if !exists {
		return errors.WrapNotFound(errors.Newf("company %s", companyID), "mark scraped")
	}
	return nil
}

// GetUser returns the user, or an ErrNotFound-marked error
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var profile string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, identity, cv_reference, candidate_profile FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.Identity, &u.CVReference, &profile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapNotFound(errors.Newf("user %s", id), "get user")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get user %s", id)
	}
	u.CandidateProfile = json.RawMessage(profile)
	return &u, nil
}

// UpsertUser creates or replaces a user. The candidate profile must be a JSON object.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return errors.WrapInvalidRequest(errors.New("user id cannot be empty"), "upsert user")
	}
	profile := u.CandidateProfile
	if len(profile) == 0 {
		profile = json.RawMessage(`{}`)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(profile, &obj); err != nil {
		return errors.WrapInvalidRequest(errors.Wrap(err, "candidate profile must be a JSON object"), "upsert user")
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, identity, cv_reference, candidate_profile, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			identity = excluded.identity,
			cv_reference = excluded.cv_reference,
			candidate_profile = excluded.candidate_profile,
			updated_at = excluded.updated_at`),
		u.ID, u.Identity, u.CVReference, string(profile), now, now)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert user %s", u.ID)
	}
	return nil
}
