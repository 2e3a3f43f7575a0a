package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pesio-ai/be-itsm-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-itsm-approvals/internal/service"
)

// DirectoryClient implements service.UserDirectory against the platform user
// directory over HTTP.
type DirectoryClient struct {
	baseURL string
	http    *http.Client
}

// NewDirectoryClient creates a directory client for the given base URL.
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ResolveUser looks a user up by id. Unknown and deactivated users both
// surface as NOT_FOUND.
func (c *DirectoryClient) ResolveUser(ctx context.Context, id int64) (*service.DirectoryUser, error) {
	url := fmt.Sprintf("%s/api/v1/users/%d", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build directory request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "user directory unavailable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound("user", fmt.Sprintf("%d", id))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(errors.ErrCodeInternal,
			"user directory returned status %d", resp.StatusCode)
	}

	var user service.DirectoryUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode directory response")
	}
	return &user, nil
}
