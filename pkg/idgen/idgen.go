package idgen

import "sync/atomic"

// Int64 returns values 1,2,3... Zero is never generated, so callers can
// use 0 as "no ID". IDs are never reused for the life of the process.
type Int64 struct {
	next atomic.Int64
}

func (u *Int64) Next() int64 {
	return u.next.Add(1)
}
