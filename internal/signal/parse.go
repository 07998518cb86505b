// Package signal receives price signals over HTTP and hands them to the
// order pipeline. Signals arrive either as a direct webhook notification or
// as relayed chat messages that need filtering and price extraction.
package signal

import (
	"regexp"
	"strconv"
	"strings"
)

// priceRe matches the first decimal number in a chat message.
var priceRe = regexp.MustCompile(`[-+]?(?:\d*\.\d+|\d+\.?\d*)`)

// ExtractPrice returns the first decimal number found in a message body.
func ExtractPrice(content string) (float64, bool) {
	match := priceRe.FindString(content)
	if match == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// Filter decides which relayed chat messages carry trade notifications.
// Empty fields match everything.
type Filter struct {
	// Channel the notification must come from.
	Channel string
	// Author the notification must come from (the alert bot).
	Author string
	// Mention is a substring the body must contain, e.g. the underlying.
	Mention string
}

// Match reports whether a message passes the filter.
func (f Filter) Match(channel, author, content string) bool {
	if f.Channel != "" && channel != f.Channel {
		return false
	}
	if f.Author != "" && author != f.Author {
		return false
	}
	if f.Mention != "" && !strings.Contains(content, f.Mention) {
		return false
	}
	return true
}
