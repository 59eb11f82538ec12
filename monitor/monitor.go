// monitor package

package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonoton/alprd/broker"
	"github.com/jonoton/alprd/delivery"
	"github.com/jonoton/alprd/feed"
	"github.com/jonoton/alprd/motion"
	"github.com/jonoton/alprd/recognizer"
	"github.com/jonoton/alprd/store"
	"github.com/jonoton/alprd/videosource"
	"github.com/jonoton/alprd/workqueue"
)

// Deps are the collaborators a Unit runs with.
// The Unit owns Source and Recognizers, the others may be shared.
type Deps struct {
	Source      videosource.VideoSource
	Recognizers []recognizer.Recognizer
	Dialer      broker.Dialer
	// Sink enables the upload worker
	Sink  delivery.Sink
	Store *store.Store
	Feed  *feed.Feed
}

// Status reports a unit
type Status struct {
	Name     string                `json:"name"`
	CameraID int                   `json:"cameraId"`
	RunID    string                `json:"runId"`
	Running  bool                  `json:"running"`
	Error    string                `json:"error,omitempty"`
	Stats    StatsSnapshot         `json:"stats"`
	Queues   []workqueue.Stats     `json:"queues"`
	Upload   *delivery.UploadStats `json:"upload,omitempty"`
}

// Unit is the isolation unit of one stream. A failure in any of its tasks
// stops the unit and nothing else.
type Unit struct {
	Name   string
	RunID  string
	conf   Config
	deps   Deps
	queues []*workqueue.Queue[Item]
	stats  *Stats
	upload *delivery.UploadWorker
	log    *log.Entry
	guard  sync.RWMutex
	err    error
	cancel context.CancelFunc
	done   chan bool
}

// NewUnit creates a new Unit
func NewUnit(name string, conf Config, deps Deps) *Unit {
	conf.SetDefaults()
	runID := uuid.NewString()
	u := &Unit{
		Name:  name,
		RunID: runID,
		conf:  conf,
		deps:  deps,
		stats: &Stats{},
		log: log.WithFields(log.Fields{
			"camera_id": conf.CameraID,
			"stream":    name,
			"run_id":    runID,
		}),
		done: make(chan bool),
	}
	for index := range deps.Recognizers {
		q := workqueue.New[Item](fmt.Sprintf("%s-%d", name, index), conf.QueueCapacity)
		q.OnEvict(func(item Item) {
			item.Frame.Cleanup()
		})
		u.queues = append(u.queues, q)
	}
	if deps.Sink != nil && deps.Dialer != nil {
		u.upload = delivery.NewUploadWorker(deps.Dialer, deps.Sink, conf.Upload,
			u.log.WithField("subsystem", "upload"))
	}
	return u
}

// Start runs the unit tasks until ctx is done or a task fails
func (u *Unit) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	go func() {
		defer close(u.done)
		g, gctx := errgroup.WithContext(ctx)
		for index, rec := range u.deps.Recognizers {
			worker := &recognition{
				index:        index,
				conf:         &u.conf,
				queue:        u.queues[index],
				recognizer:   rec,
				submit:       delivery.NewQueue(u.deps.Dialer, u.conf.Channel, u.subsystemLog("recognition").WithField("worker", index)),
				store:        u.deps.Store,
				feed:         u.deps.Feed,
				idleInterval: u.conf.IdleInterval,
				stats:        u.stats,
				log:          u.subsystemLog("recognition").WithField("worker", index),
			}
			g.Go(u.protect(fmt.Sprintf("recognition-%d", index), func() error {
				return worker.run(gctx)
			}))
		}
		if u.upload != nil {
			g.Go(u.protect("upload", func() error {
				return u.upload.Run(gctx)
			}))
		}
		gate := motion.NewGate()
		gate.SetConfig(&u.conf.Motion)
		reader := &capture{
			source:       u.deps.Source,
			gate:         gate,
			queues:       u.queues,
			pollInterval: u.conf.PollInterval,
			clock:        u.conf.Clock,
			stats:        u.stats,
			log:          u.subsystemLog("capture"),
		}
		g.Go(u.protect("capture", func() error {
			if !pause(gctx, u.conf.CaptureStartDelay) {
				gate.Close()
				return nil
			}
			return reader.run(gctx)
		}))

		err := g.Wait()
		u.cleanup()
		u.guard.Lock()
		u.err = err
		u.guard.Unlock()
		if err != nil {
			u.log.WithError(err).Errorln("Stream unit failed")
		} else {
			u.log.Infoln("Stream unit stopped")
		}
	}()
}

func (u *Unit) subsystemLog(subsystem string) *log.Entry {
	return u.log.WithField("subsystem", subsystem)
}

// protect turns a panic of a task into an error of the unit
func (u *Unit) protect(task string, f func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				u.log.WithField("task", task).Errorf("Task panicked: %v\n%s", r, debug.Stack())
				err = fmt.Errorf("%s panicked: %v", task, r)
			}
		}()
		return f()
	}
}

func (u *Unit) cleanup() {
	for _, q := range u.queues {
		for _, item := range q.Drain() {
			item.Frame.Cleanup()
		}
	}
	for index, rec := range u.deps.Recognizers {
		if err := rec.Close(); err != nil {
			u.log.WithError(err).Warnf("Could not close recognizer %d", index)
		}
	}
}

// Stop the unit
func (u *Unit) Stop() {
	if u.cancel != nil {
		u.cancel()
	}
}

// Wait until the unit stopped
func (u *Unit) Wait() {
	<-u.done
}

// Done is closed when the unit stopped
func (u *Unit) Done() <-chan bool {
	return u.done
}

// Err returns why the unit stopped, nil for a normal stop
func (u *Unit) Err() error {
	u.guard.RLock()
	defer u.guard.RUnlock()
	return u.err
}

// Stats returns the pipeline counters
func (u *Unit) Stats() StatsSnapshot {
	return u.stats.Snapshot()
}

// Status returns the unit report
func (u *Unit) Status() Status {
	s := Status{
		Name:     u.Name,
		CameraID: u.conf.CameraID,
		RunID:    u.RunID,
		Stats:    u.stats.Snapshot(),
	}
	select {
	case <-u.done:
	default:
		s.Running = true
	}
	if err := u.Err(); err != nil {
		s.Error = err.Error()
	}
	for _, q := range u.queues {
		s.Queues = append(s.Queues, q.Stats())
	}
	if u.upload != nil {
		upload := u.upload.Stats()
		s.Upload = &upload
	}
	return s
}
