// Package authclient calls the auth service's token verification endpoint.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/errors"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/httpclient"
)

// ErrInvalidToken is returned when the auth service rejects the token.
var ErrInvalidToken = errors.New("token rejected by auth service")

// Identity is the verified caller returned by POST /verify.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}


// CircuitOpenFallback turns a rejected call on an open breaker into a 503.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("authentication service is temporarily unavailable")
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid bool      `json:"valid"`
	User  *Identity `json:"user"`
	Error string    `json:"error"`
}

// Client verifies access tokens against the auth service.
type Client struct {
	http      httpclient.Doer
	verifyURL string
}

// New creates a client for the auth service rooted at baseURL.
func New(doer httpclient.Doer, baseURL string) *Client {
	return &Client{
		http:      doer,
		verifyURL: strings.TrimSuffix(baseURL, "/") + "/verify",
	}
}

// Verify returns the identity behind token. A rejected token yields an error
// wrapping ErrInvalidToken; any other error means the auth service could not
// give an answer.
func (c *Client) Verify(ctx context.Context, token string) (*Identity, error) {
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call auth verify: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		var vr verifyResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&vr)
		if vr.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidToken, vr.Error)
		}
		return nil, ErrInvalidToken
	default:
		return nil, httpclient.ParseResponseError(resp, "auth")
	}

	var vr verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if !vr.Valid || vr.User == nil || vr.User.ID == "" {
		return nil, ErrInvalidToken
	}
	return vr.User, nil
}
