package fixture

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// FreshIDs maps each recorded identifier to a new one with the same
// non-numeric prefix. A trailing run of digits is replaced by as many
// random digits; identifiers without one get a short random suffix.
func FreshIDs(recorded []string) map[string]string {
	result := make(map[string]string, len(recorded))
	used := make(map[string]struct{}, len(recorded))
	for _, id := range recorded {
		used[id] = struct{}{}
	}

	for _, id := range recorded {
		if _, ok := result[id]; ok {
			continue
		}
		prefix := strings.TrimRight(id, "0123456789")
		digits := len(id) - len(prefix)

		for attempt := 1; ; attempt++ {
			if attempt%100 == 0 {
				digits++
			}
			fresh := prefix + randomSuffix(digits)
			if _, taken := used[fresh]; taken {
				continue
			}
			used[fresh] = struct{}{}
			result[id] = fresh
			break
		}
	}
	return result
}

func randomSuffix(digits int) string {
	if digits == 0 {
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	b := make([]byte, digits)
	for i := range b {
		b[i] = byte('0' + rand.Intn(10))
	}
	return string(b)
}
