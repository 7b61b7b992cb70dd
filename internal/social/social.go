// Package social is a minimal Bluesky XRPC client covering the calls the
// social workers need: session login, posting, author feed, notifications.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultService = "https://bsky.social"

type Client struct {
	Service     string
	Handle      string
	AppPassword string
	HTTPClient  *http.Client

	accessJWT string
	did       string
}

func NewClient(service, handle, appPassword string) *Client {
	if service == "" {
		service = DefaultService
	}
	return &Client{
		Service:     strings.TrimRight(service, "/"),
		Handle:      handle,
		AppPassword: appPassword,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether credentials are present. Workers skip social
// step kinds entirely when they are not.
func (c *Client) Configured() bool {
	return c.Handle != "" && c.AppPassword != ""
}

type sessionResponse struct {
	AccessJWT string `json:"accessJwt"`
	DID       string `json:"did"`
}

// Login creates a session and caches the access token for later calls.
func (c *Client) Login(ctx context.Context) error {
	var out sessionResponse
	err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", nil,
		map[string]any{"identifier": c.Handle, "password": c.AppPassword}, &out)
	if err != nil {
		return fmt.Errorf("social login: %w", err)
	}
	c.accessJWT = out.AccessJWT
	c.did = out.DID
	return nil
}

type PostResult struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Post publishes a text post as an app.bsky.feed.post record.
func (c *Client) Post(ctx context.Context, text string, createdAt time.Time) (PostResult, error) {
	var out PostResult
	err := c.call(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.post",
		"record": map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      text,
			"createdAt": createdAt.UTC().Format(time.RFC3339),
		},
	}, &out)
	if err != nil {
		return PostResult{}, fmt.Errorf("social post: %w", err)
	}
	return out, nil
}

type Author struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type postRecord struct {
	Text string `json:"text"`
}

type FeedPost struct {
	Post struct {
		URI         string     `json:"uri"`
		Author      Author     `json:"author"`
		Record      postRecord `json:"record"`
		LikeCount   int        `json:"likeCount"`
		ReplyCount  int        `json:"replyCount"`
		RepostCount int        `json:"repostCount"`
	} `json:"post"`
}

// AuthorFeed fetches the account's own recent posts.
func (c *Client) AuthorFeed(ctx context.Context, limit int) ([]FeedPost, error) {
	var out struct {
		Feed []FeedPost `json:"feed"`
	}
	params := url.Values{"actor": {c.Handle}, "limit": {fmt.Sprint(limit)}}
	if err := c.call(ctx, http.MethodGet, "app.bsky.feed.getAuthorFeed", params, nil, &out); err != nil {
		return nil, fmt.Errorf("author feed: %w", err)
	}
	return out.Feed, nil
}

type Notification struct {
	Author Author     `json:"author"`
	Reason string     `json:"reason"`
	Record postRecord `json:"record"`
}

// Mentions fetches notifications and keeps only mentions, replies and
// quotes.
func (c *Client) Mentions(ctx context.Context, limit int) ([]Notification, error) {
	var out struct {
		Notifications []Notification `json:"notifications"`
	}
	params := url.Values{"limit": {fmt.Sprint(limit)}}
	if err := c.call(ctx, http.MethodGet, "app.bsky.notification.listNotifications", params, nil, &out); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	var mentions []Notification
	for _, n := range out.Notifications {
		switch n.Reason {
		case "mention", "reply", "quote":
			mentions = append(mentions, n)
		}
	}
	return mentions, nil
}

func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, body, out any) error {
	endpoint := c.Service + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessJWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJWT)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		diag, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("%s: status %d: %s", nsid, res.StatusCode, strings.TrimSpace(string(diag)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
