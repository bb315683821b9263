package twitter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const postTweetSchema = `{
  "type": "object",
  "properties": {
    "text": {"type": "string", "minLength": 1, "maxLength": 280},
    "reply_to_tweet_id": {"type": "string"}
  },
  "required": ["text"]
}`

const searchTweetsSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "count": {"type": "integer", "minimum": 10, "maximum": 100}
  },
  "required": ["query"]
}`

// PostTweetParams is the body of POST /post_tweet
type PostTweetParams struct {
	Text           string `json:"text"`
	ReplyToTweetID string `json:"reply_to_tweet_id,omitempty"`
}

// SearchTweetsParams is the body of POST /search_tweets
type SearchTweetsParams struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// DefaultSearchCount is used when count is omitted
const DefaultSearchCount = 10

var (
	postTweetLoader    = gojsonschema.NewStringLoader(postTweetSchema)
	searchTweetsLoader = gojsonschema.NewStringLoader(searchTweetsSchema)
)

// ParsePostTweet validates and decodes a post_tweet body
func ParsePostTweet(body []byte) (PostTweetParams, error) {
	var params PostTweetParams
	if err := validate(postTweetLoader, body); err != nil {
		return params, err
	}
	if err := json.Unmarshal(body, &params); err != nil {
		return params, &ValidationError{Details: err.Error()}
	}
	return params, nil
}

// ParseSearchTweets validates and decodes a search_tweets body
func ParseSearchTweets(body []byte) (SearchTweetsParams, error) {
	var params SearchTweetsParams
	if err := validate(searchTweetsLoader, body); err != nil {
		return params, err
	}
	if err := json.Unmarshal(body, &params); err != nil {
		return params, &ValidationError{Details: err.Error()}
	}
	if params.Count == 0 {
		params.Count = DefaultSearchCount
	}
	return params, nil
}

// ValidationError lists why a request body was rejected
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid parameters: " + e.Details
}

func validate(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{Details: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return &ValidationError{Details: strings.Join(errs, "; ")}
}
