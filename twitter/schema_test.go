package twitter

import (
	"errors"
	"strings"
	"testing"
)

func TestParsePostTweet(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    PostTweetParams
		wantErr bool
	}{
		{name: "text only", body: `{"text":"hello"}`, want: PostTweetParams{Text: "hello"}},
		{name: "reply", body: `{"text":"hi","reply_to_tweet_id":"9"}`, want: PostTweetParams{Text: "hi", ReplyToTweetID: "9"}},
		{name: "empty text", body: `{"text":""}`, wantErr: true},
		{name: "too long", body: `{"text":"` + strings.Repeat("a", 281) + `"}`, wantErr: true},
		{name: "missing text", body: `{}`, wantErr: true},
		{name: "not json", body: `text=hi`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePostTweet([]byte(tt.body))
			if tt.wantErr {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSearchTweets(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    SearchTweetsParams
		wantErr bool
	}{
		{name: "default count", body: `{"query":"go"}`, want: SearchTweetsParams{Query: "go", Count: 10}},
		{name: "explicit count", body: `{"query":"go","count":50}`, want: SearchTweetsParams{Query: "go", Count: 50}},
		{name: "count too small", body: `{"query":"go","count":5}`, wantErr: true},
		{name: "count too large", body: `{"query":"go","count":101}`, wantErr: true},
		{name: "empty query", body: `{"query":""}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSearchTweets([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
