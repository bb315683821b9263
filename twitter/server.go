package twitter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/kudoprotocol/kudo-x402"
	x402gin "github.com/kudoprotocol/kudo-x402/http/gin"
)

// Tweeter is the part of the Twitter API the server sells
type Tweeter interface {
	PostTweet(ctx context.Context, text string, replyToTweetID string) (*Tweet, error)
	SearchTweets(ctx context.Context, query string, count int) ([]Tweet, []User, error)
}

// Endpoint describes one route in the service info
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Info is returned by GET /
type Info struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Endpoints []Endpoint `json:"endpoints"`
}

// PostTweetResult is the body of a successful POST /post_tweet
type PostTweetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	URL     string `json:"url"`
	Tweet   *Tweet `json:"tweet"`
}

// SearchTweetsResult is the body of a successful POST /search_tweets
type SearchTweetsResult struct {
	Success bool           `json:"success"`
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

var serviceInfo = Info{
	Name:    "twitter-mcp-http",
	Version: "1.0.0",
	Endpoints: []Endpoint{
		{Method: http.MethodPost, Path: "/post_tweet", Description: "Post a new tweet to Twitter"},
		{Method: http.MethodPost, Path: "/search_tweets", Description: "Search for tweets on Twitter"},
	},
}

// Server serves the Twitter API behind a payment gate
type Server struct {
	tweeter  Tweeter
	gate     *x402.PaymentGate
	username string
	logger   *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithUsername sets the account used to build tweet URLs
func WithUsername(username string) ServerOption {
	return func(s *Server) {
		s.username = username
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the resource server. A nil gate serves the routes
// without payment.
func NewServer(tweeter Tweeter, gate *x402.PaymentGate, opts ...ServerOption) *Server {
	s := &Server{
		tweeter:  tweeter,
		gate:     gate,
		username: "i",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the gin engine with all routes mounted
func (s *Server) Handler() http.Handler {
	r := x402gin.NewEngine(s.logger)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, serviceInfo)
	})

	paid := r.Group("/")
	if s.gate != nil {
		paid.Use(x402gin.PaymentMiddleware(s.gate, x402gin.WithLogger(s.logger)))
	}
	paid.POST("/post_tweet", s.handlePostTweet)
	paid.POST("/search_tweets", s.handleSearchTweets)

	return r
}

func (s *Server) handlePostTweet(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid parameters", "details": err.Error()})
		return
	}
	params, err := ParsePostTweet(body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.PostTweet(c.Request.Context(), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSearchTweets(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid parameters", "details": err.Error()})
		return
	}
	params, err := ParseSearchTweets(body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.SearchTweets(c.Request.Context(), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PostTweet posts and records the tweet URL as the delivered artifact
func (s *Server) PostTweet(ctx context.Context, params PostTweetParams) (*PostTweetResult, error) {
	tweet, err := s.tweeter.PostTweet(ctx, params.Text, params.ReplyToTweetID)
	if err != nil {
		return nil, err
	}

	url := TweetURL(s.username, tweet.ID)
	x402.RecordArtifact(ctx, url)
	s.logger.Info("tweet posted", "tweetId", tweet.ID, "url", url)

	return &PostTweetResult{
		Success: true,
		Message: "Tweet posted successfully!",
		URL:     url,
		Tweet:   tweet,
	}, nil
}

// SearchTweets runs a recent search
func (s *Server) SearchTweets(ctx context.Context, params SearchTweetsParams) (*SearchTweetsResult, error) {
	tweets, users, err := s.tweeter.SearchTweets(ctx, params.Query, params.Count)
	if err != nil {
		return nil, err
	}
	return &SearchTweetsResult{
		Success: true,
		Query:   params.Query,
		Results: FormatSearch(tweets, users),
	}, nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, body := ErrorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("twitter request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, body)
}

// ErrorResponse maps an error from this package to a status and JSON body
func ErrorResponse(err error) (int, gin.H) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, gin.H{"error": "Invalid parameters", "details": validationErr.Details}
	}
	if IsRateLimit(err) {
		return http.StatusTooManyRequests, gin.H{
			"error":   "Rate limit exceeded",
			"message": "Please wait a moment before trying again.",
		}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return http.StatusInternalServerError, gin.H{"error": "Twitter API error", "message": apiErr.Error()}
	}
	return http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred", "message": err.Error()}
}
