// Package pacer implements the token bucket that gates coded packet emission.
package pacer

import "time"

const DefaultMaxCapacity = 4096

// Bucket is a byte-granular token bucket. Rate is expressed in bytes per
// millisecond. Acquire never blocks.
type Bucket struct {
	ts          time.Time
	capacity    uint32
	maxCapacity uint32
	rate        float64
}

func NewBucket(rate float64) *Bucket {
	return &Bucket{
		ts:          time.Now(),
		capacity:    0,
		maxCapacity: DefaultMaxCapacity,
		rate:        rate,
	}
}

// refill adds the tokens accrued since the last refill. The timestamp only
// advances when the integer refill is positive, so sub-quantum accruals are
// not dropped.
func (b *Bucket) refill(now time.Time) {
	if b.capacity >= b.maxCapacity {
		return
	}
	elapsed := now.Sub(b.ts)
	if elapsed <= 0 {
		return
	}
	reload := uint32(float64(elapsed.Microseconds()) / 1000.0 * b.rate)
	if reload > 0 {
		b.ts = now
		if b.capacity+reload < b.capacity || b.capacity+reload > b.maxCapacity {
			b.capacity = b.maxCapacity
		} else {
			b.capacity += reload
		}
	}
}

// Acquire takes n tokens from the bucket. Returns false without blocking when
// not enough tokens have accrued.
func (b *Bucket) Acquire(n uint32) bool {
	return b.AcquireAt(time.Now(), n)
}

// AcquireAt is Acquire with an explicit clock, used by tests and by callers
// that already hold a tick timestamp.
func (b *Bucket) AcquireAt(now time.Time, n uint32) bool {
	b.refill(now)
	if b.capacity >= n {
		b.capacity -= n
		return true
	}
	return false
}

// Capacity returns the tokens currently available without refilling.
func (b *Bucket) Capacity() uint32 {
	return b.capacity
}

// SetMaxCapacity overrides the burst ceiling.
func (b *Bucket) SetMaxCapacity(max uint32) {
	b.maxCapacity = max
}
