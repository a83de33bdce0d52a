// Package search finds pins by their root comment. Meilisearch serves
// queries when it is up; an in-process token matcher over the database
// takes over when it is not.
package search

import "strings"

// Record is the searchable projection of one pin: the root comment text
// plus the author name.
type Record struct {
	ID       int64  `json:"id"`
	AppID    string `json:"appId"`
	PagePath string `json:"pagePath"`
	Text     string `json:"text"`
	UserName string `json:"userName"`
}

// Query scopes a search to one app, optionally one page.
type Query struct {
	AppID    string
	PagePath string
	Text     string
}

// Match reports whether any query token is a substring of any token of the
// target text, case-insensitively. "head logo" matches "header", because
// the inbox filter is meant to narrow as the user types, not to rank.
func Match(query, text string) bool {
	queryTokens := strings.Fields(strings.ToLower(query))
	if len(queryTokens) == 0 {
		return true
	}
	targetTokens := strings.Fields(strings.ToLower(text))
	for _, q := range queryTokens {
		for _, target := range targetTokens {
			if strings.Contains(target, q) {
				return true
			}
		}
	}
	return false
}
