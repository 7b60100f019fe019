package tracking

import (
	"context"

	"github.com/teranos/watchtower/errors"
)

// UserResolver picks the user context a job for company runs under.
// It returns nil, nil when no user can be resolved.
type UserResolver interface {
	ResolveUser(ctx context.Context, company *Company) (*UserContext, error)
}

type userGetter interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

type trackerLookup interface {
	userGetter
	TopTrackerForCompany(ctx context.Context, companyID string) (string, error)
}

// TrackerResolver runs each company's job as its highest-ranked active tracker
type TrackerResolver struct {
	store trackerLookup
}

// NewTrackerResolver creates a resolver backed by the tracking store
func NewTrackerResolver(store trackerLookup) *TrackerResolver {
	return &TrackerResolver{store: store}
}

func (r *TrackerResolver) ResolveUser(ctx context.Context, company *Company) (*UserContext, error) {
	userID, err := r.store.TopTrackerForCompany(ctx, company.ID)
	if errors.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lookupUser(ctx, r.store, userID)
}

// StaticResolver runs every job as one configured operator
type StaticResolver struct {
	store  userGetter
	userID string
}

// NewStaticResolver creates a resolver that always resolves userID
func NewStaticResolver(store userGetter, userID string) *StaticResolver {
	return &StaticResolver{store: store, userID: userID}
}

func (r *StaticResolver) ResolveUser(ctx context.Context, _ *Company) (*UserContext, error) {
	return lookupUser(ctx, r.store, r.userID)
}

func lookupUser(ctx context.Context, store userGetter, userID string) (*UserContext, error) {
	user, err := store.GetUser(ctx, userID)
	if errors.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.Context(), nil
}

// NewResolver returns a StaticResolver when operatorUserID is set, otherwise a TrackerResolver
func NewResolver(store *Store, operatorUserID string) UserResolver {
	if operatorUserID != "" {
		return NewStaticResolver(store, operatorUserID)
	}
	return NewTrackerResolver(store)
}
