package tutorapi

import (
	"context"
	"net/http"
	"net/url"

	"tutorflow/internal/model"
)

// FetchProfile returns a student profile.
func (c *Client) FetchProfile(ctx context.Context, userID string) (model.Profile, error) {
	var out model.Profile
	err := c.do(ctx, request{op: "fetch_profile", method: http.MethodGet, path: "/profile/" + url.PathEscape(userID)}, &out)
	return out, err
}

// UpdateProfile applies patch to a student profile.
func (c *Client) UpdateProfile(ctx context.Context, userID string, patch model.ProfileUpdate) (model.StatusResponse, error) {
	var out model.StatusResponse
	err := c.do(ctx, request{op: "update_profile", method: http.MethodPut, path: "/profile/" + url.PathEscape(userID), body: patch}, &out)
	return out, err
}

// FetchTutorProfile returns a tutor profile.
func (c *Client) FetchTutorProfile(ctx context.Context, userID string) (model.TutorProfile, error) {
	var out model.TutorProfile
	err := c.do(ctx, request{op: "fetch_tutor_profile", method: http.MethodGet, path: "/tutor-profile/" + url.PathEscape(userID)}, &out)
	return out, err
}

// UpdateTutorProfile applies patch to a tutor profile.
func (c *Client) UpdateTutorProfile(ctx context.Context, userID string, patch model.TutorProfileUpdate) (model.StatusResponse, error) {
	var out model.StatusResponse
	err := c.do(ctx, request{op: "update_tutor_profile", method: http.MethodPut, path: "/tutor-profile/" + url.PathEscape(userID), body: patch}, &out)
	return out, err
}
