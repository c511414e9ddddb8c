package engine

import (
	"context"
	"errors"
	"fmt"

	"stitchline/internal/domain"
	"stitchline/internal/repo"
)

// SaveUser registers or updates a worker. Team names are checked against the
// site config when teams are configured there.
func (e Engine) SaveUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ID == "" {
		return domain.User{}, errors.New("user id is required")
	}
	if u.Name == "" {
		return domain.User{}, errors.New("user name is required")
	}
	if u.Team != "" && e.Config != nil && len(e.Config.Teams) > 0 {
		if _, ok := e.Config.Teams[u.Team]; !ok {
			return domain.User{}, fmt.Errorf("team %q is not configured", u.Team)
		}
	}
	existing, err := e.Repo.GetUser(ctx, u.ID)
	switch {
	case err == nil:
		u.CreatedAt = existing.CreatedAt
	case errors.Is(err, repo.ErrNotFound):
		u.CreatedAt = e.nowString()
	default:
		return domain.User{}, err
	}
	if err := e.Repo.UpsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// DeactivateUser keeps the row for task history but removes the user from
// future team fan-outs.
func (e Engine) DeactivateUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, UnknownReferenceError{Kind: "user", ID: userID}
		}
		return domain.User{}, err
	}
	u.IsActive = false
	if err := e.Repo.UpsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}
