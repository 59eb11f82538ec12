package broker

import (
	"context"
	"sort"
	"sync"
	"time"
)

type jobState int

const (
	stateReady jobState = iota
	stateReserved
	stateBuried
)

type memoryJob struct {
	id            uint64
	channel       string
	body          []byte
	state         jobState
	reservedUntil time.Time
	releases      int
}

// MemoryStats counts jobs by state
type MemoryStats struct {
	Ready    int
	Reserved int
	Buried   int
}

// Total returns all jobs held
func (s MemoryStats) Total() int {
	return s.Ready + s.Reserved + s.Buried
}

// MemoryServer is an in-process broker, jobs are lost when the process exits
type MemoryServer struct {
	guard   sync.Mutex
	ttr     time.Duration
	nextID  uint64
	jobs    map[uint64]*memoryJob
	changed chan struct{}
	closed  bool
}

// NewMemoryServer creates a new MemoryServer
func NewMemoryServer(ttr time.Duration) *MemoryServer {
	if ttr <= 0 {
		ttr = DefaultTTR
	}
	m := &MemoryServer{
		ttr:     ttr,
		jobs:    make(map[uint64]*memoryJob),
		changed: make(chan struct{}),
	}
	return m
}

// Dial implements Dialer
func (m *MemoryServer) Dial(ctx context.Context) (Conn, error) {
	m.guard.Lock()
	defer m.guard.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memoryConn{server: m, used: "default", watched: []string{"default"}}, nil
}

// Close implements Dialer
func (m *MemoryServer) Close() error {
	m.guard.Lock()
	defer m.guard.Unlock()
	if !m.closed {
		m.closed = true
		m.notify()
	}
	return nil
}

// Stats returns job counts, expired reservations count as ready
func (m *MemoryServer) Stats() (stats MemoryStats) {
	m.guard.Lock()
	defer m.guard.Unlock()
	m.expire(time.Now())
	for _, job := range m.jobs {
		switch job.state {
		case stateReady:
			stats.Ready++
		case stateReserved:
			stats.Reserved++
		case stateBuried:
			stats.Buried++
		}
	}
	return
}

// notify wakes reserving connections, must hold guard
func (m *MemoryServer) notify() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// expire returns timed out reservations to ready, must hold guard
func (m *MemoryServer) expire(now time.Time) {
	for _, job := range m.jobs {
		if job.state == stateReserved && !now.Before(job.reservedUntil) {
			job.state = stateReady
		}
	}
}

func (m *MemoryServer) put(channel string, body []byte) (uint64, error) {
	m.guard.Lock()
	defer m.guard.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.nextID++
	m.jobs[m.nextID] = &memoryJob{
		id:      m.nextID,
		channel: channel,
		body:    append([]byte(nil), body...),
		state:   stateReady,
	}
	m.notify()
	return m.nextID, nil
}

// take reserves the oldest ready job of channels, must hold guard
func (m *MemoryServer) take(channels []string, now time.Time) (job Job, ok bool) {
	m.expire(now)
	ids := make([]uint64, 0, len(m.jobs))
	for id, cur := range m.jobs {
		if cur.state == stateReady && contains(channels, cur.channel) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	cur := m.jobs[ids[0]]
	cur.state = stateReserved
	cur.reservedUntil = now.Add(m.ttr)
	job = Job{ID: cur.id, Body: append([]byte(nil), cur.body...), Releases: cur.releases}
	ok = true
	return
}

func (m *MemoryServer) reserve(channels []string, timeout time.Duration) (Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.guard.Lock()
		if m.closed {
			m.guard.Unlock()
			return Job{}, ErrClosed
		}
		job, ok := m.take(channels, time.Now())
		changed := m.changed
		m.guard.Unlock()
		if ok {
			return job, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Job{}, ErrTimeout
		}
		// reservations expire without a notify, so wake up periodically
		if remaining > 50*time.Millisecond {
			remaining = 50 * time.Millisecond
		}
		timer := time.NewTimer(remaining)
		select {
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (m *MemoryServer) update(id uint64, f func(job *memoryJob) bool) error {
	m.guard.Lock()
	defer m.guard.Unlock()
	if m.closed {
		return ErrClosed
	}
	job, ok := m.jobs[id]
	if !ok || job.state != stateReserved {
		return ErrNotFound
	}
	if f(job) {
		delete(m.jobs, id)
	}
	m.notify()
	return nil
}

type memoryConn struct {
	server  *MemoryServer
	used    string
	watched []string
	closed  bool
}

func (c *memoryConn) Use(channel string) error {
	if c.closed {
		return ErrClosed
	}
	c.used = channel
	return nil
}

func (c *memoryConn) Put(body []byte) (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.server.put(c.used, body)
}

// Watch makes channel the only reserve source, like a single tube watch
func (c *memoryConn) Watch(channel string) error {
	if c.closed {
		return ErrClosed
	}
	c.watched = []string{channel}
	return nil
}

func (c *memoryConn) Reserve(timeout time.Duration) (Job, error) {
	if c.closed {
		return Job{}, ErrClosed
	}
	return c.server.reserve(c.watched, timeout)
}

func (c *memoryConn) Delete(id uint64) error {
	if c.closed {
		return ErrClosed
	}
	return c.server.update(id, func(job *memoryJob) bool {
		return true
	})
}

func (c *memoryConn) Release(job Job) error {
	if c.closed {
		return ErrClosed
	}
	return c.server.update(job.ID, func(cur *memoryJob) bool {
		cur.state = stateReady
		cur.releases++
		return false
	})
}

func (c *memoryConn) Bury(job Job) error {
	if c.closed {
		return ErrClosed
	}
	return c.server.update(job.ID, func(cur *memoryJob) bool {
		cur.state = stateBuried
		return false
	})
}

func (c *memoryConn) Close() error {
	c.closed = true
	return nil
}

func contains(list []string, value string) bool {
	for _, cur := range list {
		if cur == value {
			return true
		}
	}
	return false
}
