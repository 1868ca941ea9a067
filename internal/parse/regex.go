// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package parse

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	peopleURLPattern  = regexp.MustCompile(`douban\.com/people/([^/?#]+)`)
	trailingIDPattern = regexp.MustCompile(`/(\d+)/?(?:[?#].*)?$`)
	subjectIDPattern  = regexp.MustCompile(`subject/(\d+)`)
	leadingIntPattern = regexp.MustCompile(`^\s*(\d+)`)
)

// UniqueNameFromURL extracts the user's domain name from a profile URL.
// Returns "" when the URL is not a profile link.
func UniqueNameFromURL(url string) string {
	m := peopleURLPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// DoubanIDFromURL extracts the trailing numeric id of an item URL
// (note, album, broadcast permalink, subject page).
func DoubanIDFromURL(url string) int64 {
	if m := subjectIDPattern.FindStringSubmatch(url); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		return n
	}
	m := trailingIDPattern.FindStringSubmatch(url)
	if m == nil {
		return 0
	}
	n, _ := strconv.ParseInt(m[1], 10, 64)
	return n
}

// Count extracts the leading integer of a count string, tolerating a
// Chinese suffix: "24张照片" yields 24. Returns 0 when no digits lead.
func Count(s string) int64 {
	m := leadingIntPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	n, _ := strconv.ParseInt(m[1], 10, 64)
	return n
}
