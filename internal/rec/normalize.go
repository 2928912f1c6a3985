// SPDX-License-Identifier: MIT

package rec

import (
	"html"
	"strings"

	"golang.org/x/text/cases"
)

// Normalize canonicalizes a display string for identity comparison:
// HTML entities are decoded, zero-width characters dropped, surrounding
// whitespace removed, internal whitespace runs collapsed to a single
// space, and the result case-folded. A fresh Caser per call:
// cases.Caser is stateful and not safe to share across goroutines.
func Normalize(s string) string {
	s = html.UnescapeString(s)
	s = strings.Map(dropZeroWidth, s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}

// Zero-width characters survive strings.Fields because they are not
// Unicode whitespace; models occasionally emit them inside names.
func dropZeroWidth(r rune) rune {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\ufeff':
		return -1
	}
	return r
}

// Key builds the dedup key for an artist/album pair. Album-mode keys are
// "artist|album"; artist-mode keys carry an "artist_" prefix so the two
// modes never collide in a shared history. Returns false for items that
// must be dropped (empty artist, or empty album in album mode).
func Key(mode Mode, artist, album string) (string, bool) {
	na := Normalize(artist)
	if na == "" {
		return "", false
	}
	if mode == ModeArtistOnly {
		return "artist_" + na, true
	}
	nb := Normalize(album)
	if nb == "" {
		return "", false
	}
	return na + "|" + nb, true
}
