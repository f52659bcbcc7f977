// Package id issues transaction identifiers.
//
// Identifiers are ULIDs drawn from a single monotonic source, so ids issued by
// one process sort in issue order even within the same millisecond. The
// ledger relies on that to keep history ordering stable across stores.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
	last ulid.ULID
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewAt returns a new id stamped with t. If t is earlier than the previous
// id's timestamp the previous timestamp is reused so ids never go backwards.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	ms := ulid.Timestamp(t.UTC())
	if ms < last.Time() {
		ms = last.Time()
	}

	id, err := ulid.New(ms, mono)
	if err != nil {
		// Monotonic entropy overflowed inside one millisecond; move to the next.
		id = ulid.MustNew(ms+1, mono)
	}
	last = id
	return id.String()
}

