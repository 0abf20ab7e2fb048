package stream

import "TopicPulse/internal/domain"

// ring keeps the last cap envelopes of a job in sequence order.
type ring struct {
	items []domain.Envelope
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{items: make([]domain.Envelope, capacity)}
}

func (r *ring) push(env domain.Envelope) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = env
		r.size++
		return
	}
	r.items[r.start] = env
	r.start = (r.start + 1) % len(r.items)
}

func (r *ring) len() int { return r.size }

// oldest returns the sequence of the first retained envelope, or 0 when empty.
func (r *ring) oldest() int64 {
	if r.size == 0 {
		return 0
	}
	return r.items[r.start].Sequence
}

// since returns retained envelopes with sequence > seq, oldest first.
func (r *ring) since(seq int64) []domain.Envelope {
	out := make([]domain.Envelope, 0, r.size)
	for i := 0; i < r.size; i++ {
		env := r.items[(r.start+i)%len(r.items)]
		if env.Sequence > seq {
			out = append(out, env)
		}
	}
	return out
}
