/*
 * backend/watch/tier.go
 *
 * Bounded bucket rings and the open-bucket cascade that rolls seconds into
 * minutes into hours.
 */

package watch

// bucketRing is a fixed-capacity circular buffer of history buckets,
// overwriting the oldest once full. Bucket starts are strictly ascending
// because samples feed it in arrival order and keys only move forward.
type bucketRing struct {
	buf   []Bucket
	head  int
	count int
}

func newBucketRing(capacity int) *bucketRing {
	if capacity < 1 {
		capacity = 1
	}
	return &bucketRing{buf: make([]Bucket, capacity)}
}

func (r *bucketRing) push(b Bucket) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = b
		r.count++
		return
	}
	r.buf[r.head] = b
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns the buckets oldest-first.
func (r *bucketRing) snapshot() []Bucket {
	out := make([]Bucket, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *bucketRing) clear() {
	r.head = 0
	r.count = 0
}

// openBucket accumulates samples (or rolled-up sub-buckets) until its time
// key closes.
type openBucket struct {
	sum   float64
	min   float64
	max   float64
	count int
}

func (b *openBucket) add(sum float64, minv, maxv float64, count int) {
	if b.count == 0 {
		b.min = minv
		b.max = maxv
	} else {
		if minv < b.min {
			b.min = minv
		}
		if maxv > b.max {
			b.max = maxv
		}
	}
	b.sum += sum
	b.count += count
}

// aggregator holds the three open buckets for one watch. Keys are the floor
// of the sample time in the tier's unit; -1 marks an empty bucket.
type aggregator struct {
	second    openBucket
	secondKey int64
	minute    openBucket
	minuteKey int64
	hour      openBucket
	hourKey   int64
}

func newAggregator() aggregator {
	return aggregator{secondKey: -1, minuteKey: -1, hourKey: -1}
}

// feed accumulates one sample, flushing any open bucket whose key the sample
// has moved past. Producer timestamps are not guaranteed to arrive in order;
// a sample older than the open bucket folds into it rather than flushing, so
// tier bucket starts stay strictly ascending. timestamp is unix milliseconds.
func (a *aggregator) feed(value float64, timestamp int64, secondTier, minuteTier, hourTier *bucketRing) {
	key := timestamp / 1000
	if a.secondKey != -1 && key < a.secondKey {
		a.second.add(value, value, value, 1)
		return
	}
	if a.secondKey != -1 && key > a.secondKey {
		a.flushSecond(secondTier, minuteTier, hourTier)
	}
	a.second.add(value, value, value, 1)
	a.secondKey = key
}

func (a *aggregator) flushSecond(secondTier, minuteTier, hourTier *bucketRing) {
	closed := a.second.toBucket(a.secondKey * 1000)
	secondTier.push(closed)

	minuteKey := a.secondKey / 60
	if a.minuteKey != -1 && minuteKey != a.minuteKey {
		a.flushMinute(minuteTier, hourTier)
	}
	a.minute.add(closed.Avg*float64(closed.Count), closed.Min, closed.Max, closed.Count)
	a.minuteKey = minuteKey

	a.second = openBucket{}
	a.secondKey = -1
}

func (a *aggregator) flushMinute(minuteTier, hourTier *bucketRing) {
	closed := a.minute.toBucket(a.minuteKey * 60_000)
	minuteTier.push(closed)

	hourKey := a.minuteKey / 60
	if a.hourKey != -1 && hourKey != a.hourKey {
		a.flushHour(hourTier)
	}
	a.hour.add(closed.Avg*float64(closed.Count), closed.Min, closed.Max, closed.Count)
	a.hourKey = hourKey

	a.minute = openBucket{}
	a.minuteKey = -1
}

func (a *aggregator) flushHour(hourTier *bucketRing) {
	hourTier.push(a.hour.toBucket(a.hourKey * 3_600_000))
	a.hour = openBucket{}
	a.hourKey = -1
}

func (b *openBucket) toBucket(bucketStart int64) Bucket {
	avg := 0.0
	if b.count > 0 {
		avg = b.sum / float64(b.count)
	}
	return Bucket{
		BucketStart: bucketStart,
		Avg:         avg,
		Min:         b.min,
		Max:         b.max,
		Count:       b.count,
	}
}
