package chaturbate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/upstream"
)

const onlineRoomsPath = "/api/public/affiliates/onlinerooms/"

// Room is one result of the online rooms feed.
type Room struct {
	Username      string   `json:"username"`
	DisplayName   string   `json:"display_name"`
	RoomSubject   string   `json:"room_subject"`
	NumUsers      int      `json:"num_users"`
	NumFollowers  int      `json:"num_followers"`
	Tags          []string `json:"tags"`
	Gender        string   `json:"gender"`
	Country       string   `json:"country"`
	SecondsOnline int      `json:"seconds_online"`
	CurrentShow   string   `json:"current_show"`
	IsHD          bool     `json:"is_hd"`
	IsNew         bool     `json:"is_new"`
	ImageURL      string   `json:"image_url"`
	ImageURL360   string   `json:"image_url_360x270"`
	ChatRoomURL   string   `json:"chat_room_url"`
}

// RoomLookup is the outcome of looking up one username. Online is false and
// Room nil when the user is not broadcasting.
type RoomLookup struct {
	Online bool
	Room   *Room
	Raw    json.RawMessage
}

// Metrics maps the lookup to the normalized snapshot shape.
func (l *RoomLookup) Metrics() model.SnapshotMetrics {
	online := l.Online
	m := model.SnapshotMetrics{IsOnline: &online}
	if l.Room == nil {
		return m
	}
	r := l.Room
	m.NumUsers = &r.NumUsers
	m.NumFollowers = &r.NumFollowers
	m.RoomSubject = r.RoomSubject
	m.Tags = r.Tags
	m.Gender = r.Gender
	m.Country = r.Country
	m.SecondsOnline = &r.SecondsOnline
	m.ImageURL = r.ImageURL
	return m
}

// AffiliateClient queries the public Affiliate API.
type AffiliateClient struct {
	http    *upstream.Client
	baseURL string
	wm      string
}

// NewAffiliateClient creates a client for baseURL (e.g. https://chaturbate.com)
// using the affiliate campaign code wm.
func NewAffiliateClient(baseURL, wm string, timeout time.Duration) *AffiliateClient {
	return &AffiliateClient{
		http:    upstream.New("chaturbate-affiliate", upstream.Options{Timeout: timeout, RPS: 1, Burst: 3}),
		baseURL: strings.TrimRight(baseURL, "/"),
		wm:      wm,
	}
}

// LookupRoom fetches the room of username.
func (c *AffiliateClient) LookupRoom(ctx context.Context, username string) (*RoomLookup, error) {
	q := url.Values{}
	q.Set("wm", c.wm)
	q.Set("username", username)
	q.Set("format", "json")
	q.Set("limit", "1")

	var resp struct {
		Count   int               `json:"count"`
		Results []json.RawMessage `json:"results"`
	}
	if err := c.http.GetJSON(ctx, c.baseURL+onlineRoomsPath+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	for _, raw := range resp.Results {
		var r Room
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("chaturbate-affiliate: decode room: %w", err)
		}
		if strings.EqualFold(r.Username, username) {
			return &RoomLookup{Online: true, Room: &r, Raw: raw}, nil
		}
	}
	return &RoomLookup{Raw: json.RawMessage(`{}`)}, nil
}
