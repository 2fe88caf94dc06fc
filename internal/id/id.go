// Package id generates order references. The generator is injected into the
// broker so tests can supply deterministic sequences.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out unique order references.
type Generator interface {
	Next() string
}

// Sequence is a monotonic counter seeded from a start time, so references do
// not collide across process restarts as long as the clock moves forward.
type Sequence struct {
	mu   sync.Mutex
	next uint64
}

func NewSequence(seed time.Time) *Sequence {
	return &Sequence{next: uint64(seed.Unix())}
}

func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	s.next++
	return strconv.FormatUint(n, 10)
}

// ULID generates time-sortable references with random entropy. Use it when a
// single counter is not enough, e.g. multiple broker instances over one store.
type ULID struct {
	mu   sync.Mutex
	mono io.Reader
}

func NewULID() *ULID {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &ULID{mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

func (g *ULID) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), g.mono)
	if err != nil {
		// Only possible if time goes backwards or entropy fails.
		panic(err)
	}
	return id.String()
}
