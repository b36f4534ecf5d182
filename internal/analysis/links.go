package analysis

import (
	"regexp"
	"sort"
)

// linkPattern is a heuristic URL matcher, not a URI validator: a scheme,
// host characters or percent-encoded octets, then path/query characters.
// Trailing punctuation from surrounding prose may be included.
var linkPattern = regexp.MustCompile(`https?://(?:[-\w.]|(?:%[\da-fA-F]{2}))+[/?=\-&%.\w]+`)

// ExtractLinks returns the distinct URLs found in text, sorted
// lexicographically. Empty text yields nil.
func ExtractLinks(text string) []string {
	if text == "" {
		return nil
	}
	return uniqueSorted(linkPattern.FindAllString(text, -1))
}

// mergeLinks returns the sorted union of the links found in every text.
func mergeLinks(texts ...string) []string {
	var all []string
	for _, text := range texts {
		all = append(all, ExtractLinks(text)...)
	}
	return uniqueSorted(all)
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
