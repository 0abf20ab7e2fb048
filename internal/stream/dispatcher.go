// Package stream delivers job envelopes to attached client channels in order,
// with a bounded replay buffer per job for reconnects.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/metrics"
	"TopicPulse/internal/ports"
)

// ResyncMessage is the status message sent when a client cannot be caught up from the buffer.
const ResyncMessage = "progress snapshot resynced"

const (
	reasonClient   = "client"
	reasonPong     = "pong_timeout"
	reasonSend     = "send_error"
	reasonOverflow = "outbox_full"
	reasonReplaced = "replaced"
	reasonShutdown = "shutdown"
)

// Channel is one client connection. Close must unblock a pending Send.
type Channel interface {
	Send(ctx context.Context, env domain.Envelope) error
	Close() error
}

// SnapshotFunc returns the current state of a job for resync envelopes.
type SnapshotFunc func(jobID string) (domain.Job, bool)

// Config tunes buffering and heartbeats.
type Config struct {
	ReplayBufferSize  int
	HeartbeatInterval time.Duration
	PongGrace         time.Duration
	OutboxSize        int
	WriteTimeout      time.Duration
}

// Deps wires optional collaborators.
type Deps struct {
	Snapshot SnapshotFunc
	Mirror   ports.EnvelopeMirror
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

// Dispatcher owns per-job sequences and buffers and all attached sessions.
// A single mutex orders publishing against replay, so a watcher never sees
// an envelope twice or out of order.
type Dispatcher struct {
	cfg      Config
	snapshot SnapshotFunc
	mirror   ports.EnvelopeMirror
	metrics  *metrics.Collector
	logger   *slog.Logger

	mu       sync.Mutex
	jobs     map[string]*jobStream
	sessions map[string]*session
	// cursors survive detach: session id -> job id -> last delivered sequence.
	cursors map[string]map[string]int64
	// closing holds sessions detached under mu; unlock closes their channels.
	closing []*session
	wg      sync.WaitGroup
}

type jobStream struct {
	head     int64
	buf      *ring
	watchers map[string]*session
}

type session struct {
	id       string
	ch       Channel
	outbox   chan domain.Envelope
	pong     chan struct{}
	done     chan struct{}
	watching map[string]struct{}
	// queued is the highest sequence put on this connection's outbox per job.
	queued map[string]int64
	once   sync.Once
}

// New builds a dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.ReplayBufferSize < 1 {
		cfg.ReplayBufferSize = 500
	}
	if cfg.OutboxSize < 1 {
		cfg.OutboxSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		snapshot: deps.Snapshot,
		mirror:   deps.Mirror,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "stream"),
		jobs:     map[string]*jobStream{},
		sessions: map[string]*session{},
		cursors:  map[string]map[string]int64{},
	}
}

// Attach registers ch as the live channel of sessionID, replacing an older one.
func (d *Dispatcher) Attach(sessionID string, ch Channel) {
	s := &session{
		id: sessionID,
		ch: ch,
		// room for a full replay on top of live traffic
		outbox:   make(chan domain.Envelope, d.cfg.OutboxSize+d.cfg.ReplayBufferSize),
		pong:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		watching: map[string]struct{}{},
		queued:   map[string]int64{},
	}

	d.mu.Lock()
	if old, ok := d.sessions[sessionID]; ok {
		d.detachLocked(old, reasonReplaced)
	}
	d.sessions[sessionID] = s
	d.wg.Add(1)
	go d.writeLoop(s)
	if d.cfg.HeartbeatInterval > 0 {
		d.wg.Add(1)
		go d.heartbeat(s)
	}
	d.unlock()

	d.metrics.ChannelAttached()
	d.logger.Debug("session attached", "session_id", sessionID)
}

// Watch subscribes an attached session to a job. With lastSeen set, envelopes
// after it are replayed; otherwise the session's remembered cursor is used.
// When the buffer cannot cover the gap a resync status with the current
// snapshot is sent instead of raw replay.
func (d *Dispatcher) Watch(sessionID, jobID string, lastSeen *int64) error {
	// The snapshot is read outside the lock and after the head it covers,
	// so nothing published after that head can be missing from the client.
	head := d.Head(jobID)
	var snap *domain.Job
	known := true
	if d.snapshot != nil {
		job, ok := d.snapshot(jobID)
		known = ok
		if ok {
			snap = &job
		}
	}

	d.mu.Lock()
	defer d.unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s is not attached: %w", sessionID, domain.ErrChannel)
	}
	js, ok := d.jobs[jobID]
	if !ok {
		if !known {
			return fmt.Errorf("watch %s: %w", jobID, domain.ErrJobNotFound)
		}
		js = d.streamLocked(jobID)
	}

	var from int64
	switch {
	case lastSeen != nil:
		from = max(*lastSeen, 0)
	default:
		from = d.cursors[sessionID][jobID]
	}
	// never queue the same envelope twice on one connection
	from = max(from, s.queued[jobID])

	replay, gap := js.resume(from)
	if gap {
		if !d.enqueueLocked(s, d.resyncEnvelope(jobID, head, snap)) {
			return nil
		}
		replay = js.buf.since(head)
	}
	for _, env := range replay {
		if !d.enqueueLocked(s, env) {
			return nil
		}
	}

	js.watchers[sessionID] = s
	s.watching[jobID] = struct{}{}
	d.logger.Debug("session watching job", "session_id", sessionID, "job_id", jobID, "from", from, "replayed", len(replay), "resync", gap)
	return nil
}

// resume decides what a client that has seen sequence from needs next.
func (js *jobStream) resume(from int64) ([]domain.Envelope, bool) {
	if from > js.head {
		return nil, true
	}
	if from == js.head {
		return nil, false
	}
	if js.buf.len() == 0 || from+1 < js.buf.oldest() {
		return nil, true
	}
	return js.buf.since(from), false
}

func (d *Dispatcher) resyncEnvelope(jobID string, head int64, snap *domain.Job) domain.Envelope {
	payload := domain.StatusPayload{Message: ResyncMessage, Snapshot: snap}
	if snap != nil {
		payload.Status = snap.Status
	}
	env, err := domain.NewEnvelope(domain.EnvelopeStatus, jobID, payload)
	if err != nil {
		d.logger.Error("encode resync", "job_id", jobID, "error", err)
		env = domain.Envelope{Type: domain.EnvelopeStatus, JobID: jobID}
	}
	env.Sequence = head
	return env
}

// Publish sequences env for jobID, buffers it and fans it out to watchers.
func (d *Dispatcher) Publish(jobID string, env domain.Envelope) domain.Envelope {
	d.mu.Lock()
	defer d.unlock()

	js := d.streamLocked(jobID)
	js.head++
	env.Sequence = js.head
	env.JobID = jobID
	js.buf.push(env)

	if d.mirror != nil {
		if err := d.mirror.Mirror(env); err != nil {
			d.logger.Warn("mirror envelope", "job_id", jobID, "sequence", env.Sequence, "error", err)
		}
	}
	d.metrics.Envelope(string(env.Type))

	for _, s := range js.watchers {
		d.enqueueLocked(s, env)
	}
	return env
}

// Head returns the last sequence published for jobID.
func (d *Dispatcher) Head(jobID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if js, ok := d.jobs[jobID]; ok {
		return js.head
	}
	return 0
}

// Pong records a heartbeat answer from sessionID.
func (d *Dispatcher) Pong(sessionID string) {
	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.pong <- struct{}{}:
	default:
	}
}

// Detach drops the live channel of sessionID. Jobs keep running and buffering.
func (d *Dispatcher) Detach(sessionID string) {
	d.mu.Lock()
	defer d.unlock()
	if s, ok := d.sessions[sessionID]; ok {
		d.detachLocked(s, reasonClient)
	}
}

// DetachChannel is Detach limited to ch, so a replaced connection closing late
// leaves its successor attached.
func (d *Dispatcher) DetachChannel(sessionID string, ch Channel) {
	d.mu.Lock()
	defer d.unlock()
	if s, ok := d.sessions[sessionID]; ok && s.ch == ch {
		d.detachLocked(s, reasonClient)
	}
}

// DropJob forgets the buffer and cursors of a finished job.
func (d *Dispatcher) DropJob(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if js, ok := d.jobs[jobID]; ok {
		for _, s := range js.watchers {
			delete(s.watching, jobID)
		}
		delete(d.jobs, jobID)
	}
	for sid, jobs := range d.cursors {
		delete(jobs, jobID)
		if len(jobs) == 0 {
			delete(d.cursors, sid)
		}
	}
}

// Close detaches every session and waits for their goroutines.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for _, s := range d.sessions {
		d.detachLocked(s, reasonShutdown)
	}
	d.unlock()
	d.wg.Wait()
}

func (d *Dispatcher) streamLocked(jobID string) *jobStream {
	js, ok := d.jobs[jobID]
	if !ok {
		js = &jobStream{buf: newRing(d.cfg.ReplayBufferSize), watchers: map[string]*session{}}
		d.jobs[jobID] = js
	}
	return js
}

// enqueueLocked never blocks; a full outbox is a channel error.
func (d *Dispatcher) enqueueLocked(s *session, env domain.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbox <- env:
		if env.JobID != "" && env.Sequence > s.queued[env.JobID] {
			s.queued[env.JobID] = env.Sequence
		}
		return true
	default:
		d.logger.Warn("outbox full, dropping channel", "session_id", s.id, "job_id", env.JobID)
		d.detachLocked(s, reasonOverflow)
		return false
	}
}

func (d *Dispatcher) detachLocked(s *session, reason string) {
	s.once.Do(func() {
		if cur, ok := d.sessions[s.id]; ok && cur == s {
			delete(d.sessions, s.id)
		}
		for jobID := range s.watching {
			if js, ok := d.jobs[jobID]; ok && js.watchers[s.id] == s {
				delete(js.watchers, s.id)
			}
		}
		close(s.done)
		d.closing = append(d.closing, s)
		d.metrics.ChannelDetached(reason)
		d.logger.Info("session detached", "session_id", s.id, "reason", reason)
	})
}

func (d *Dispatcher) drop(s *session, reason string) {
	d.mu.Lock()
	defer d.unlock()
	d.detachLocked(s, reason)
}

// unlock releases d.mu, then closes the channels detached while it was held.
// A slow Close therefore stalls only its caller.
func (d *Dispatcher) unlock() {
	pending := d.closing
	d.closing = nil
	d.mu.Unlock()
	for _, s := range pending {
		if err := s.ch.Close(); err != nil {
			d.logger.Debug("close channel", "session_id", s.id, "error", err)
		}
	}
}

func (d *Dispatcher) writeLoop(s *session) {
	defer d.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case env := <-s.outbox:
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
			err := s.ch.Send(ctx, env)
			cancel()
			if err != nil {
				d.logger.Warn("send failed", "session_id", s.id, "error", fmt.Errorf("%w: %v", domain.ErrChannel, err))
				d.drop(s, reasonSend)
				return
			}
			if env.JobID != "" && env.Sequence > 0 {
				d.advance(s.id, env.JobID, env.Sequence)
			}
		}
	}
}

func (d *Dispatcher) advance(sessionID, jobID string, seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.jobs[jobID]; !ok {
		return
	}
	jobs, ok := d.cursors[sessionID]
	if !ok {
		jobs = map[string]int64{}
		d.cursors[sessionID] = jobs
	}
	if seq > jobs[jobID] {
		jobs[jobID] = seq
	}
}

func (d *Dispatcher) heartbeat(s *session) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			select {
			case <-s.pong:
			default:
			}
			ping, err := domain.NewEnvelope(domain.EnvelopePing, "", domain.PingPayload{At: now.UTC()})
			if err != nil {
				d.logger.Error("encode ping", "error", err)
				continue
			}
			d.mu.Lock()
			ok := d.enqueueLocked(s, ping)
			d.unlock()
			if !ok {
				return
			}
			if !d.awaitPong(s) {
				return
			}
		}
	}
}

func (d *Dispatcher) awaitPong(s *session) bool {
	grace := d.cfg.PongGrace
	if grace <= 0 {
		grace = d.cfg.HeartbeatInterval
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.done:
		return false
	case <-s.pong:
		return true
	case <-timer.C:
		d.drop(s, reasonPong)
		return false
	}
}
