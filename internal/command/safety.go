// SPDX-License-Identifier: MIT

package command

import (
	"strings"
	"unicode"
)

// Sentinels rejected in free-text fields. Names legitimately contain
// apostrophes and hyphens, so only unambiguous injection markers are listed.
var unsafeFragments = []string{
	"<script",
	"</",
	"javascript:",
	"onerror=",
	"onload=",
	"drop table",
	"union select",
	"insert into",
	"delete from",
	"/*",
	"*/",
}

// safeString rejects control characters and common SQL/XSS sentinels.
// The empty string is safe.
func safeString(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	lower := strings.ToLower(s)
	for _, frag := range unsafeFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	return true
}
