// Package volsize converts volume size specifiers such as "10GB" into
// whole megabytes.
package volsize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
)

// ErrInvalidSizeFormat is returned when a size specifier can't be parsed.
var ErrInvalidSizeFormat = errors.New("invalid size format")

// Units are binary multiples: 1GB is 1024MB.
var units = map[string]string{
	"kb":  "kib",
	"kib": "kib",
	"mb":  "mib",
	"mib": "mib",
	"gb":  "gib",
	"gib": "gib",
	"tb":  "tib",
	"tib": "tib",
	"pb":  "pib",
	"pib": "pib",
}

// ToMB converts a size specifier into megabytes. A unit is required and is
// matched without regard to case. Sizes that are not a whole number of
// megabytes are rounded up.
func ToMB(size string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(size))

	i := strings.IndexFunc(s, unicode.IsLetter)
	if i <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSizeFormat, size)
	}

	number := strings.TrimSpace(s[:i])
	unit, ok := units[strings.TrimSpace(s[i:])]
	if !ok {
		return 0, fmt.Errorf("%w: %q: unknown unit", ErrInvalidSizeFormat, size)
	}

	n, err := humanize.ParseBytes(number + unit)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %s", ErrInvalidSizeFormat, size, err)
	}

	mb := n / humanize.MiByte
	if n%humanize.MiByte != 0 {
		mb++
	}

	return int64(mb), nil
}
