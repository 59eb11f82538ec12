package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/broker"
)

// State of an UploadWorker
type State int32

// States of an UploadWorker
const (
	StateDisconnected State = iota
	StateWatching
	StateReserving
	StateUploading
	StateDeleting
	StateReleasing
	StateBurying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateWatching:
		return "watching"
	case StateReserving:
		return "reserving"
	case StateUploading:
		return "uploading"
	case StateDeleting:
		return "deleting"
	case StateReleasing:
		return "releasing"
	case StateBurying:
		return "burying"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// UploadConfig contains the upload timings
type UploadConfig struct {
	Channel        string
	ReserveTimeout time.Duration
	ReconnectDelay time.Duration
	SuccessDelay   time.Duration
	FailureDelay   time.Duration
	// MaxReleases buries a job released that many times, zero retries forever
	MaxReleases int
}

// SetDefaults fills unset timings
func (c *UploadConfig) SetDefaults() {
	if c.Channel == "" {
		c.Channel = "alprd"
	}
	if c.ReserveTimeout <= 0 {
		c.ReserveTimeout = time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.SuccessDelay <= 0 {
		c.SuccessDelay = 10 * time.Millisecond
	}
	if c.FailureDelay <= 0 {
		c.FailureDelay = 2 * time.Second
	}
}

// UploadStats contains the upload counters
type UploadStats struct {
	State      string `json:"state"`
	Uploaded   uint64 `json:"uploaded"`
	Failed     uint64 `json:"failed"`
	Buried     uint64 `json:"buried"`
	Reconnects uint64 `json:"reconnects"`
}

// UploadWorker drains the broker channel into the sink
type UploadWorker struct {
	dialer     broker.Dialer
	sink       Sink
	conf       UploadConfig
	state      atomic.Int32
	uploaded   atomic.Uint64
	failed     atomic.Uint64
	buried     atomic.Uint64
	reconnects atomic.Uint64
	failures   int
	outages    int
	wait       func(ctx context.Context, d time.Duration) bool
	log        *log.Entry
}

// NewUploadWorker creates a new UploadWorker
func NewUploadWorker(dialer broker.Dialer, sink Sink, conf UploadConfig, logger *log.Entry) *UploadWorker {
	conf.SetDefaults()
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	u := &UploadWorker{
		dialer: dialer,
		sink:   sink,
		conf:   conf,
		wait:   sleepContext,
		log:    logger,
	}
	return u
}

// State returns the current state
func (u *UploadWorker) State() State {
	return State(u.state.Load())
}

func (u *UploadWorker) setState(s State) {
	u.state.Store(int32(s))
}

// Stats returns the current counters
func (u *UploadWorker) Stats() UploadStats {
	return UploadStats{
		State:      u.State().String(),
		Uploaded:   u.uploaded.Load(),
		Failed:     u.failed.Load(),
		Buried:     u.buried.Load(),
		Reconnects: u.reconnects.Load(),
	}
}

// Run uploads until ctx is done. Jobs not yet delivered stay in the broker.
func (u *UploadWorker) Run(ctx context.Context) error {
	defer u.setState(StateStopped)
	for ctx.Err() == nil {
		u.setState(StateDisconnected)
		conn, err := u.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			u.brokerFailed(err, "Error connecting to broker")
			if !u.wait(ctx, u.conf.ReconnectDelay) {
				break
			}
			continue
		}
		err = u.serve(ctx, conn)
		conn.Close()
		if err != nil && ctx.Err() == nil {
			u.brokerFailed(err, "Broker error")
			if !u.wait(ctx, u.conf.ReconnectDelay) {
				break
			}
		}
	}
	return nil
}

// brokerFailed logs an error every tenth broker failure in a row
func (u *UploadWorker) brokerFailed(err error, message string) {
	u.reconnects.Add(1)
	u.outages++
	entry := u.log.WithError(err)
	if u.outages%10 == 0 {
		entry.Errorf("%s, %d failures in a row. Will retry in %v", message, u.outages, u.conf.ReconnectDelay)
	} else {
		entry.Warnf("%s. Will retry in %v", message, u.conf.ReconnectDelay)
	}
}

func (u *UploadWorker) connect(ctx context.Context) (broker.Conn, error) {
	conn, err := u.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	u.setState(StateWatching)
	if err := conn.Watch(u.conf.Channel); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch %s: %w", u.conf.Channel, err)
	}
	return conn, nil
}

func (u *UploadWorker) serve(ctx context.Context, conn broker.Conn) error {
	for ctx.Err() == nil {
		u.setState(StateReserving)
		job, err := conn.Reserve(u.conf.ReserveTimeout)
		if errors.Is(err, broker.ErrTimeout) {
			u.outages = 0
			continue
		}
		if err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		u.outages = 0
		delay, err := u.process(ctx, conn, job)
		if err != nil {
			return err
		}
		u.setState(StateReserving)
		if !u.wait(ctx, delay) {
			return nil
		}
	}
	return nil
}

// process delivers one job and returns how long to wait before the next
func (u *UploadWorker) process(ctx context.Context, conn broker.Conn, job broker.Job) (time.Duration, error) {
	u.setState(StateUploading)
	deliverErr := u.sink.Deliver(ctx, job.Body)
	if deliverErr == nil {
		u.setState(StateDeleting)
		if err := conn.Delete(job.ID); err != nil {
			return 0, fmt.Errorf("delete job %d: %w", job.ID, err)
		}
		u.uploaded.Add(1)
		u.failures = 0
		u.log.Infof("Job: %d successfully uploaded", job.ID)
		return u.conf.SuccessDelay, nil
	}

	u.failed.Add(1)
	u.failures++
	if u.conf.MaxReleases > 0 && job.Releases >= u.conf.MaxReleases {
		u.setState(StateBurying)
		if err := conn.Bury(job); err != nil {
			return 0, fmt.Errorf("bury job %d: %w", job.ID, err)
		}
		u.buried.Add(1)
		u.log.WithError(deliverErr).Errorf("Job: %d failed to upload %d times. Buried.", job.ID, job.Releases+1)
		return u.conf.FailureDelay, nil
	}

	u.setState(StateReleasing)
	if err := conn.Release(job); err != nil {
		return 0, fmt.Errorf("release job %d: %w", job.ID, err)
	}
	entry := u.log.WithError(deliverErr)
	if u.failures%10 == 0 {
		entry.Errorf("Job: %d failed to upload, %d failures in a row. Will retry.", job.ID, u.failures)
	} else {
		entry.Warnf("Job: %d failed to upload. Will retry.", job.ID)
	}
	return u.conf.FailureDelay, nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
