package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stocklane/stocklane/pkg/auth"
)

// UserClient calls the user service. It satisfies auth.Directory so
// peer services can resolve customer principals remotely.
type UserClient struct {
	*Client
}

// NewUserClient creates a client for the user service.
func NewUserClient(baseURL string, timeout time.Duration, tokens *ServiceTokenSource) *UserClient {
	return &UserClient{Client: NewClient(baseURL, timeout, tokens)}
}

type principalResponse struct {
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
}

// LookupPrincipal resolves username via the user service's internal
// principal endpoint. Unknown users map to auth.ErrPrincipalNotFound
// so directory chains fall through cleanly.
func (c *UserClient) LookupPrincipal(ctx context.Context, username string) (*auth.Principal, error) {
	var resp principalResponse
	err := c.do(ctx, http.MethodGet, "/internal/principals/"+url.PathEscape(username), nil, &resp)
	if statusCode(err) == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", auth.ErrPrincipalNotFound, username)
	}
	if err != nil {
		return nil, err
	}

	return &auth.Principal{
		Username:    resp.Username,
		Authorities: auth.AuthoritiesFromStrings(resp.Authorities),
	}, nil
}
