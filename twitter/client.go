// Package twitter is the paywalled Twitter resource server: a small API v2
// client and the gin routes that sell it per call.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultBaseURL is the Twitter API v2 root
	DefaultBaseURL = "https://api.twitter.com/2"
	// DefaultTokenURL issues app-only bearer tokens
	DefaultTokenURL = "https://api.twitter.com/oauth2/token"
)

// ErrMissingCredentials means neither a user token nor app credentials were set
var ErrMissingCredentials = errors.New("twitter: no access token or client credentials configured")

// Tweet is a posted or found tweet
type Tweet struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	AuthorID      string         `json:"author_id,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
	PublicMetrics *PublicMetrics `json:"public_metrics,omitempty"`
}

// PublicMetrics are the engagement counters of a tweet
type PublicMetrics struct {
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	LikeCount    int `json:"like_count"`
	QuoteCount   int `json:"quote_count"`
}

// User is a tweet author
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Verified bool   `json:"verified,omitempty"`
}

// APIError is a non-2xx answer from the Twitter API
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("twitter API error (%d): %s", e.StatusCode, msg)
}

// IsRateLimit reports whether err is a Twitter 429
func IsRateLimit(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Config configures the API client
type Config struct {
	BaseURL string

	// AccessToken is an OAuth 2.0 user-context token; required to post
	AccessToken string

	// ClientID and ClientSecret obtain an app-only token, enough to search
	ClientID     string
	ClientSecret string
	TokenURL     string

	// HTTPClient is the transport underneath the OAuth2 client (optional)
	HTTPClient *http.Client
}

// Client calls the Twitter API v2
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an authenticated client. The context is only used to
// fetch app-only tokens.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	var httpClient *http.Client
	switch {
	case cfg.AccessToken != "":
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		}))
	case cfg.ClientID != "" && cfg.ClientSecret != "":
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = DefaultTokenURL
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
		}
		httpClient = cc.Client(ctx)
	default:
		return nil, ErrMissingCredentials
	}

	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// PostTweet publishes text, optionally as a reply
func (c *Client) PostTweet(ctx context.Context, text string, replyToTweetID string) (*Tweet, error) {
	body := map[string]interface{}{"text": text}
	if replyToTweetID != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": replyToTweetID}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Data Tweet `json:"data"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// SearchTweets returns recent tweets matching query along with their authors
func (c *Client) SearchTweets(ctx context.Context, query string, count int) ([]Tweet, []User, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(count))
	params.Set("expansions", "author_id")
	params.Set("tweet.fields", "public_metrics,created_at")
	params.Set("user.fields", "username,name,verified")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tweets/search/recent?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create search request: %w", err)
	}

	var resp struct {
		Data     []Tweet `json:"data"`
		Includes struct {
			Users []User `json:"users"`
		} `json:"includes"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Data, resp.Includes.Users, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twitter request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read twitter response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &problem) == nil {
			apiErr.Title = problem.Title
			apiErr.Detail = problem.Detail
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode twitter response: %w", err)
	}
	return nil
}
