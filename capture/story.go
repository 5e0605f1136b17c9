package capture

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	lowerUpper = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	upperWord  = regexp.MustCompile(`([A-Z])([A-Z][a-z])`)
)

// Kebab converts a PascalCase story export name to the kebab-case id the
// preview server uses: WithImageNoLink -> with-image-no-link,
// HTMLBlock -> html-block. Already-kebab input is returned lower-cased.
func Kebab(s string) string {
	s = lowerUpper.ReplaceAllString(s, "$1-$2")
	s = upperWord.ReplaceAllString(s, "$1-$2")
	return strings.ToLower(s)
}

// StoryID is {prefix}-{block}--{kebab(story)}.
func StoryID(prefix, block, story string) string {
	if prefix == "" {
		return fmt.Sprintf("%s--%s", strings.ToLower(block), Kebab(story))
	}
	return fmt.Sprintf("%s-%s--%s", prefix, strings.ToLower(block), Kebab(story))
}

// StoryURL is the isolated iframe rendering of one story.
func StoryURL(base, prefix, block, story string) string {
	return fmt.Sprintf("%s/iframe.html?id=%s&viewMode=story",
		strings.TrimRight(base, "/"), url.QueryEscape(StoryID(prefix, block, story)))
}

// ViewerURL is the story inside the full preview UI, for humans.
func ViewerURL(base, prefix, block, story string) string {
	return fmt.Sprintf("%s/?path=/story/%s", strings.TrimRight(base, "/"), StoryID(prefix, block, story))
}
