package domain

import "regexp"

var postURIPattern = regexp.MustCompile(`^pubky://([^/]+)/pub/[^/]+/posts/([^/?#]+)`)

// PostRef identifies the author and post behind a post URI.
type PostRef struct {
	AuthorID string
	PostID   string
}

// ParsePostURI extracts the author and post ID from a post URI of the form
// pubky://AUTHOR/pub/APP/posts/POST_ID. Returns false for anything else.
func ParsePostURI(uri string) (PostRef, bool) {
	m := postURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return PostRef{}, false
	}
	return PostRef{AuthorID: m[1], PostID: m[2]}, true
}

// ProfileURI returns the profile record URI for a user, the target for
// follow-marker tags.
func ProfileURI(userID string) string {
	return "pubky://" + userID + "/pub/pubky.app/profile.json"
}
