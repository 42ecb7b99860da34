package audio

import "github.com/gammazero/deque"

// ring is a fixed capacity FIFO that keeps a running sum.
type ring struct {
	q        deque.Deque[float64]
	capacity int
	sum      float64
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity}
}

func (r *ring) push(v float64) {
	if r.q.Len() == r.capacity {
		r.popFront()
	}
	r.q.PushBack(v)
	r.sum += v
}

func (r *ring) popFront() {
	if r.q.Len() == 0 {
		return
	}
	r.sum -= r.q.PopFront()
}

func (r *ring) len() int { return r.q.Len() }

func (r *ring) at(i int) float64 { return r.q.At(i) }

func (r *ring) mean() float64 {
	n := r.q.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += r.q.At(i)
	}
	return sum / float64(n)
}

// total is exact as long as only integers are pushed.
func (r *ring) total() float64 { return r.sum }

func (r *ring) minMax() (min, max float64) {
	n := r.q.Len()
	if n == 0 {
		return 0, 0
	}
	min, max = r.q.At(0), r.q.At(0)
	for i := 1; i < n; i++ {
		v := r.q.At(i)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func (r *ring) reset() {
	r.q.Clear()
	r.sum = 0
}
