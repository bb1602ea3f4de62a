package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	m       sync.Mutex
)

// NewULID returns a lower case ULID. Ids created later sort lexically after ids created earlier,
// which lets the most recent benchmark run be found without a separate timestamp.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// ULIDTime returns the creation time encoded in a ULID produced by NewULID.
func ULIDTime(id string) (time.Time, error) {
	parsed, err := ulid.Parse(strings.ToUpper(id))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
