package internal

import (
	"strconv"
	"strings"
)

// PlaceholderStyle is the bind marker syntax of a driver.
type PlaceholderStyle int

const (
	PlaceholderQuestion PlaceholderStyle = iota // ?
	PlaceholderDollar                           // $1
	PlaceholderColon                            // :1
	PlaceholderAtP                              // @p1
)

// Rebind rewrites '?' markers into the given style. Markers inside quoted
// literals and identifiers are left untouched.
func Rebind(style PlaceholderStyle, query string) string {
	if style == PlaceholderQuestion || !strings.Contains(query, "?") {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if quote != 0 {
			sb.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
			sb.WriteByte(ch)
		case '?':
			n++
			switch style {
			case PlaceholderDollar:
				sb.WriteByte('$')
			case PlaceholderColon:
				sb.WriteByte(':')
			case PlaceholderAtP:
				sb.WriteString("@p")
			}
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}
