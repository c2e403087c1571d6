// Package cuisine maps free text (provider category and place name) to cuisine tags.
package cuisine

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Tag = string

const (
	Korean   Tag = "korean"
	Chinese  Tag = "chinese"
	Japanese Tag = "japanese"
	Western  Tag = "western"
)

// Fallback is returned when no rule matches.
const Fallback = Western

type rule struct {
	pattern *regexp.Regexp
	tag     Tag
}

// Evaluated in order; every matching rule contributes its tag.
var rules = []rule{
	{regexp.MustCompile(`한식|korean`), Korean},
	{regexp.MustCompile(`중식|chinese|짜장|짬뽕`), Chinese},
	{regexp.MustCompile(`일식|japanese|스시|라멘|돈카츠`), Japanese},
	{regexp.MustCompile(`양식|western|이탈리안|피자|버거|스테이크|파스타`), Western},
}

// Classify returns the tags of every rule matching text, in rule order.
// The result is never empty.
func Classify(text string) []Tag {
	normalized := strings.ToLower(norm.NFC.String(text))
	tags := make([]Tag, 0, 2)
	for _, r := range rules {
		if r.pattern.MatchString(normalized) {
			tags = appendUnique(tags, r.tag)
		}
	}
	if len(tags) == 0 {
		return []Tag{Fallback}
	}
	return tags
}

// ClassifyRecord classifies "category name", or just the name when there is no category.
func ClassifyRecord(category, name string) []Tag {
	category = strings.TrimSpace(category)
	if category == "" {
		return Classify(name)
	}
	return Classify(category + " " + name)
}

func appendUnique(tags []Tag, tag Tag) []Tag {
	for _, existing := range tags {
		if existing == tag {
			return tags
		}
	}
	return append(tags, tag)
}
