// Package ledger persists the brokerage collections (orders, positions and
// balances), each split into month-keyed partitions. Reads return a full
// partition, writes replace a full partition, and a named lock grants
// exclusive ownership of a set of partitions for the duration of a callback.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Collection names.
const (
	Orders    = "orders"
	Positions = "positions"
	Balances  = "balances"
)

// Collections lists every collection a store manages, reset order included.
var Collections = []string{Orders, Positions, Balances}

// Key identifies one partition: the calendar month of a record's asof in UTC.
// Keys sort chronologically as plain strings.
type Key string

func MonthKey(t time.Time) Key {
	return Key(t.UTC().Format("2006-01"))
}

// LockName is the name a partition is locked under, unique across
// collections.
func LockName(collection string, key Key) string {
	return collection + "/" + string(key)
}

// Store is the persistence contract. Records are opaque JSON documents; the
// broker layer owns their shape. Replace with an empty record set removes the
// partition.
type Store interface {
	// Keys lists the partition keys of a collection, ascending.
	Keys(ctx context.Context, collection string) ([]Key, error)
	// Read returns every record of one partition in insertion order.
	Read(ctx context.Context, collection string, key Key) ([]json.RawMessage, error)
	// Replace atomically swaps the partition's contents.
	Replace(ctx context.Context, collection string, key Key, records []json.RawMessage) error
	// Lock runs fn while exclusively holding the named partitions. Names
	// are acquired all-or-nothing, so overlapping callers cannot deadlock.
	Lock(ctx context.Context, names []string, fn func(ctx context.Context) error) error
}

// ReadAll decodes every record of a collection across all partitions,
// ascending by partition key.
func ReadAll[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	keys, err := s.Keys(ctx, collection)
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []T
	for _, key := range keys {
		raws, err := s.Read(ctx, collection, key)
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			var rec T
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, fmt.Errorf("%s/%s: %w", collection, key, err)
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// Encode marshals typed records into the store's document form.
func Encode[T any](recs []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(recs))
	for _, rec := range recs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// ReplaceAll writes every partition of a collection from a key→records map
// under one exclusive lock covering all named partitions plus any extras the
// caller needs covered (e.g. the immediately prior month when records migrate
// across a boundary).
func ReplaceAll[T any](ctx context.Context, s Store, collection string, parts map[Key][]T, extra ...Key) error {
	names := make([]string, 0, len(parts)+len(extra))
	for key := range parts {
		names = append(names, LockName(collection, key))
	}
	for _, key := range extra {
		names = append(names, LockName(collection, key))
	}

	return s.Lock(ctx, names, func(ctx context.Context) error {
		for key, recs := range parts {
			raws, err := Encode(recs)
			if err != nil {
				return err
			}
			if err := s.Replace(ctx, collection, key, raws); err != nil {
				return err
			}
		}
		return nil
	})
}
