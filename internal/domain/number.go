package domain

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"
)

const numberPrefix = "CON"

var numberPattern = regexp.MustCompile(`^CON\d{11}$`)

// GenerateContractNumber returns a candidate contract number: the prefix,
// the last 8 decimal digits of the current Unix millisecond timestamp, and
// a 3-digit random suffix. Collisions are possible under concurrent
// creation; the store's unique index is the source of truth and callers
// retry on ErrDuplicateNumber with a fresh candidate.
func GenerateContractNumber() string {
	return generateContractNumberAt(time.Now(), rand.IntN(1000))
}

func generateContractNumberAt(now time.Time, suffix int) string {
	millis := fmt.Sprintf("%d", now.UnixMilli())
	if len(millis) > 8 {
		millis = millis[len(millis)-8:]
	}
	return fmt.Sprintf("%s%08s%03d", numberPrefix, millis, suffix)
}

// ValidateContractNumber checks the fixed-width CON + 11 digit pattern.
// Provider-assigned identifiers for e-signature contracts do not match and
// are carried in their own column instead.
func ValidateContractNumber(s string) bool {
	return numberPattern.MatchString(s)
}
