package lndaddr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ellemouton/lndaddr/accounts"
)

const adminClientTimeout = 30 * time.Second

// AdminClient talks to the admin API of a running daemon.
type AdminClient struct {
	baseURL string
	client  *http.Client
}

// NewAdminClient creates a client for the admin API at host. host may be a
// host:port pair or a full URL.
func NewAdminClient(host string) *AdminClient {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	return &AdminClient{
		baseURL: strings.TrimRight(host, "/"),
		client:  &http.Client{Timeout: adminClientTimeout},
	}
}

// AddUser creates an account.
func (c *AdminClient) AddUser(ctx context.Context,
	acct *accounts.Account) (*UserInfo, error) {

	body, err := json.Marshal(acct)
	if err != nil {
		return nil, err
	}

	var info UserInfo
	err = c.do(ctx, http.MethodPost, "/v1/users", body, &info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

// DeleteUser deletes an account and returns it.
func (c *AdminClient) DeleteUser(ctx context.Context,
	username string) (*UserInfo, error) {

	var info UserInfo
	err := c.do(
		ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(username),
		nil, &info,
	)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

// ListUsers lists all accounts, or only the one named username if it isn't
// empty.
func (c *AdminClient) ListUsers(ctx context.Context,
	username string) ([]*UserInfo, error) {

	path := "/v1/users"
	if username != "" {
		path += "?user=" + url.QueryEscape(username)
	}

	var resp ListUsersResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Users, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string,
	body []byte, result interface{}) error {

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reader,
	)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var adminErr AdminError
		if err := json.NewDecoder(resp.Body).Decode(&adminErr); err != nil {
			return fmt.Errorf("admin request failed with status %d",
				resp.StatusCode)
		}

		return statusError(resp.StatusCode, adminErr.Error)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// statusError restores the store's sentinel errors from an admin response.
func statusError(code int, msg string) error {
	switch code {
	case http.StatusConflict:
		return fmt.Errorf("%w (%s)", accounts.ErrDuplicateUser, msg)

	case http.StatusNotFound:
		return fmt.Errorf("%w (%s)", accounts.ErrUnknownUser, msg)

	default:
		return errors.New(msg)
	}
}
