package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

const (
	base36        = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeSuffixLen = 6
)

// RequestCode builds a human-readable code of the form PREFIX-YYYYMMDD-XXXXXX where the
// suffix is six random base36 characters. The date is taken from at in UTC.
func RequestCode(prefix string, at time.Time) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", fmt.Errorf("request code prefix is required")
	}
	var b strings.Builder
	b.Grow(len(prefix) + 1 + 8 + 1 + codeSuffixLen)
	b.WriteString(prefix)
	b.WriteByte('-')
	b.WriteString(at.UTC().Format("20060102"))
	b.WriteByte('-')
	max := big.NewInt(int64(len(base36)))
	for i := 0; i < codeSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("request code entropy: %w", err)
		}
		b.WriteByte(base36[n.Int64()])
	}
	return b.String(), nil
}
