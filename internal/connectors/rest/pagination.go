package rest

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// linkRegex matches Link header entries: <url>; rel="type".
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseNextLink extracts the "next" URL from a Link header.
// Returns empty string if no next link is found.
func ParseNextLink(linkHeader string) string {
	return ParseAllLinks(linkHeader)["next"]
}

// ParseAllLinks extracts all URLs from a Link header by relationship type.
func ParseAllLinks(linkHeader string) map[string]string {
	links := make(map[string]string)
	if linkHeader == "" {
		return links
	}

	for _, part := range strings.Split(linkHeader, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) == 3 {
			links[matches[2]] = matches[1]
		}
	}
	return links
}

// PageParam reads the "page" query parameter of a URL. Returns 0 if absent.
func PageParam(rawURL string) int {
	if rawURL == "" {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// NextPageFromLink returns the next page number announced by a Link header.
func NextPageFromLink(linkHeader string) int {
	return PageParam(ParseNextLink(linkHeader))
}

// PageQuery builds the query for a page request.
func PageQuery(pageParam, sizeParam string, page, size int) url.Values {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set(pageParam, strconv.Itoa(page))
	q.Set(sizeParam, strconv.Itoa(size))
	return q
}
