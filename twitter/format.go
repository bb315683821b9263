package twitter

// SearchResult is one formatted search hit
type SearchResult struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	URL       string         `json:"url"`
	CreatedAt string         `json:"createdAt,omitempty"`
	Author    *User          `json:"author,omitempty"`
	Metrics   *PublicMetrics `json:"metrics,omitempty"`
}

// FormatSearch joins tweets with their authors
func FormatSearch(tweets []Tweet, users []User) []SearchResult {
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	results := make([]SearchResult, 0, len(tweets))
	for _, t := range tweets {
		r := SearchResult{
			ID:        t.ID,
			Text:      t.Text,
			CreatedAt: t.CreatedAt,
			Metrics:   t.PublicMetrics,
			URL:       "https://twitter.com/i/status/" + t.ID,
		}
		if u, ok := byID[t.AuthorID]; ok {
			author := u
			r.Author = &author
			r.URL = TweetURL(u.Username, t.ID)
		}
		results = append(results, r)
	}
	return results
}

// TweetURL is the public link to a tweet
func TweetURL(username, id string) string {
	return "https://twitter.com/" + username + "/status/" + id
}
