// Package statbate fetches model income and rank data from Statbate Plus.
package statbate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/upstream"
)

// ErrNotFound is returned when Statbate has no data for the username.
var ErrNotFound = errors.New("statbate: model not found")

// ModelInfo is the subset of Statbate's model info castboard keeps.
type ModelInfo struct {
	Username     string   `json:"name"`
	Rank         *int     `json:"rank"`
	IncomeUSD    *float64 `json:"income_usd"`
	IncomeTokens *int     `json:"income_tokens"`
	Followers    *int     `json:"followers"`
	LastOnline   string   `json:"last_online"`
	Gender       string   `json:"gender"`
	Country      string   `json:"country"`
}

// Metrics maps the info to the normalized snapshot shape.
func (m *ModelInfo) Metrics() model.SnapshotMetrics {
	return model.SnapshotMetrics{
		NumFollowers: m.Followers,
		Rank:         m.Rank,
		IncomeUSD:    m.IncomeUSD,
		IncomeTokens: m.IncomeTokens,
		Gender:       m.Gender,
		Country:      m.Country,
	}
}

// Client talks to the Statbate API with a bearer token.
type Client struct {
	http    *upstream.Client
	baseURL string
}

// New creates a Client for baseURL.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		http: upstream.New("statbate", upstream.Options{
			Timeout: timeout,
			RPS:     0.5,
			Burst:   2,
			Header:  http.Header{"Authorization": {"Bearer " + token}},
		}),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ModelInfo fetches the model's info on the given platform. raw is the
// untouched response body.
func (c *Client) ModelInfo(ctx context.Context, platform model.Platform, username string) (*ModelInfo, json.RawMessage, error) {
	u := fmt.Sprintf("%s/api/model/%s/%s/info", c.baseURL, url.PathEscape(string(platform)), url.PathEscape(username))
	body, err := c.http.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	var resp struct {
		Data *ModelInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("statbate: decode response: %w", err)
	}
	if resp.Data == nil {
		return nil, nil, ErrNotFound
	}
	return resp.Data, json.RawMessage(body), nil
}
