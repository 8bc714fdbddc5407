package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// environments maps an authentication environment name to its endpoint.
var environments = map[string]string{
	"production": "https://auth.cowork.dev",
	"staging":    "https://auth-staging.cowork.dev",
}

const defaultEnvironment = "production"

// errPollPending means the user has not finished the browser flow yet.
var errPollPending = errors.New("authorization pending")

// HTTPAuthenticator implements the device-style login handoff over HTTP:
// one call obtains an authorization URL and a poll code, then the result
// endpoint is polled until the user finishes in the browser.
type HTTPAuthenticator struct {
	client *http.Client
}

// NewHTTPAuthenticator creates the default authenticator.
func NewHTTPAuthenticator() *HTTPAuthenticator {
	return &HTTPAuthenticator{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type beginResponse struct {
	AuthURL  string `json:"authUrl"`
	PollCode string `json:"pollCode"`
}

type pollResponse struct {
	Status string          `json:"status"`
	Reason string          `json:"reason,omitempty"`
	User   *types.UserInfo `json:"user,omitempty"`
}

// BeginLogin requests an authorization URL from the named environment and
// returns a handoff whose Wait polls for the outcome.
func (a *HTTPAuthenticator) BeginLogin(ctx context.Context, environment string) (*Handoff, error) {
	base, ok := environments[environment]
	if !ok {
		base = environments[defaultEnvironment]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/device/begin", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth endpoint returned %d", resp.StatusCode)
	}

	var begin beginResponse
	if err := json.NewDecoder(resp.Body).Decode(&begin); err != nil {
		return nil, err
	}
	if begin.AuthURL == "" || begin.PollCode == "" {
		return nil, errors.New("auth endpoint returned an incomplete handoff")
	}

	return &Handoff{
		AuthURL: begin.AuthURL,
		Wait: func(ctx context.Context) (*types.UserInfo, error) {
			return a.poll(ctx, base, begin.PollCode)
		},
	}, nil
}

// poll retries the result endpoint with exponential backoff until the
// remote side reports success or rejection, or ctx expires.
func (a *HTTPAuthenticator) poll(ctx context.Context, base, code string) (*types.UserInfo, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = 0

	var user *types.UserInfo
	operation := func() error {
		result, err := a.pollOnce(ctx, base, code)
		if err != nil {
			return err
		}
		switch result.Status {
		case "success":
			user = result.User
			return nil
		case "pending":
			return errPollPending
		default:
			reason := result.Reason
			if reason == "" {
				reason = "login rejected"
			}
			return backoff.Permanent(errors.New(reason))
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if user == nil {
		return nil, errors.New("auth endpoint confirmed without an identity")
	}
	return user, nil
}

func (a *HTTPAuthenticator) pollOnce(ctx context.Context, base, code string) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/device/poll?code="+code, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll endpoint returned %d", resp.StatusCode)
	}

	var result pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
