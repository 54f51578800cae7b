package resolver

import (
	"regexp"
	"sort"
	"strings"
)

type chapter struct {
	Label  string
	Offset int
	Length int
}

var tsRe = regexp.MustCompile(`(?:\d+:)+\d+`) // 0:00, 12:34, 1:23:45

// parseChapters extracts chapter markers from a video description. The
// first marker must sit at 0:00 for the list to count as a real chapter
// list. Results come back sorted with computed segment lengths.
func parseChapters(description string, durationSec int) []chapter {
	type rawChapter struct {
		label  string
		offset int
	}
	var found []rawChapter
	foundFirstAtZero := false

	for _, line := range strings.Split(description, "\n") {
		matches := tsRe.FindAllString(line, -1)
		if len(matches) != 1 {
			continue
		}
		timestamp := matches[0]
		secs := parseTimestamp(timestamp)
		if !foundFirstAtZero {
			if secs != 0 {
				continue
			}
			foundFirstAtZero = true
		}
		// handle both "0:00 - Intro" and "Intro 0:00" shapes
		before, after, _ := strings.Cut(line, timestamp)
		label := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(after), "-:–—|> "))
		if label == "" {
			label = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(before), "-:–—|>( "))
		}
		if label == "" {
			label = "Chapter"
		}
		found = append(found, rawChapter{label: label, offset: secs})
	}

	if len(found) == 0 || !foundFirstAtZero {
		return nil
	}

	sort.Slice(found, func(i, j int) bool { return found[i].offset < found[j].offset })

	out := make([]chapter, 0, len(found))
	for i := range found {
		start := found[i].offset
		end := durationSec
		if i < len(found)-1 {
			end = found[i+1].offset
		}
		if end > start && start >= 0 {
			out = append(out, chapter{Label: found[i].label, Offset: start, Length: end - start})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseTimestamp(s string) int {
	total := 0
	for _, p := range strings.Split(s, ":") {
		total = total*60 + atoiDigits(strings.TrimSpace(p))
	}
	return total
}

func atoiDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
		}
	}
	return n
}
