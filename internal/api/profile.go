package api

import (
	"context"
	"log/slog"
	"net/http"
)

// profileResponse mirrors the profile JSON object.
type profileResponse struct {
	ID                int64   `json:"id"`
	UserID            int64   `json:"user_id"`
	Headline          *string `json:"headline"`
	Location          *string `json:"location"`
	Bio               *string `json:"bio"`
	PictureURL        *string `json:"profile_picture_url"`
	ShowEmail         bool    `json:"privacy_show_email"`
	ShowPhone         bool    `json:"privacy_show_phone"`
	ShowLocation      bool    `json:"privacy_show_location"`
	ViewCount         int64   `json:"profile_view_count"`
	AllowViewTracking bool    `json:"allow_profile_view_tracking"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func (p *profileResponse) toProfile(logger *slog.Logger) Profile {
	return Profile{
		ID:                p.ID,
		UserID:            p.UserID,
		Headline:          deref(p.Headline),
		Location:          deref(p.Location),
		Bio:               deref(p.Bio),
		PictureURL:        deref(p.PictureURL),
		ShowEmail:         p.ShowEmail,
		ShowPhone:         p.ShowPhone,
		ShowLocation:      p.ShowLocation,
		ViewCount:         p.ViewCount,
		AllowViewTracking: p.AllowViewTracking,
		CreatedAt:         parseTimestamp(p.CreatedAt, logger),
		UpdatedAt:         parseTimestamp(p.UpdatedAt, logger),
	}
}

type profileStatsResponse struct {
	UserID         int64   `json:"user_id"`
	Email          string  `json:"email"`
	FullName       string  `json:"full_name"`
	AccountCreated string  `json:"account_created"`
	IsVerified     bool    `json:"is_verified"`
	Role           string  `json:"role"`
	ProfileViews   int64   `json:"profile_views"`
	ProfileUpdated *string `json:"profile_updated"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// Profile returns the authenticated account together with its profile.
func (c *Client) Profile(ctx context.Context) (*Identity, error) {
	c.logger.Info("fetching own profile")

	var ir identityResponse
	if err := c.doJSON(ctx, Request{Method: http.MethodGet, Path: "/profile/me"}, &ir); err != nil {
		return nil, err
	}

	id := ir.toIdentity(c.logger)

	return &id, nil
}

// UpdateProfile applies a partial update and returns the stored profile.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error) {
	c.logger.Info("updating own profile")

	req, err := jsonRequest(http.MethodPut, "/profile/me", update)
	if err != nil {
		return nil, err
	}

	var pr profileResponse
	if err := c.doJSON(ctx, req, &pr); err != nil {
		return nil, err
	}

	p := pr.toProfile(c.logger)

	return &p, nil
}

// ProfileStats returns account and profile counters.
func (c *Client) ProfileStats(ctx context.Context) (*ProfileStats, error) {
	c.logger.Info("fetching profile statistics")

	var sr profileStatsResponse
	if err := c.doJSON(ctx, Request{Method: http.MethodGet, Path: "/profile/stats/me"}, &sr); err != nil {
		return nil, err
	}

	stats := ProfileStats{
		UserID:         sr.UserID,
		Email:          sr.Email,
		FullName:       sr.FullName,
		Role:           Role(sr.Role),
		Verified:       sr.IsVerified,
		AccountCreated: parseTimestamp(sr.AccountCreated, c.logger),
		ProfileViews:   sr.ProfileViews,
		ProfileUpdated: parseTimestamp(deref(sr.ProfileUpdated), c.logger),
	}

	return &stats, nil
}
