// manage package

package manage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/radovskyb/watcher"
	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/broker"
	"github.com/jonoton/alprd/delivery"
	"github.com/jonoton/alprd/feed"
	"github.com/jonoton/alprd/monitor"
	"github.com/jonoton/alprd/recognizer"
	"github.com/jonoton/alprd/store"
	"github.com/jonoton/alprd/videosource"
)

// PruneInterval is how often stored plate images are pruned
var PruneInterval = time.Minute

// Factories create the collaborators of the stream units
type Factories struct {
	Source     func(name string, address string) videosource.VideoSource
	Recognizer func(cameraID int, conf recognizer.Config) (recognizer.Recognizer, error)
	Dialer     func(conf broker.Config) (broker.Dialer, error)
	Sink       func(conf UploadConfig) delivery.Sink
}

// DefaultFactories returns the production collaborators
func DefaultFactories() Factories {
	return Factories{
		Source: videosource.NewSource,
		Recognizer: func(cameraID int, conf recognizer.Config) (recognizer.Recognizer, error) {
			return recognizer.NewCommandRecognizer(conf)
		},
		Dialer: broker.NewDialer,
		Sink: func(conf UploadConfig) delivery.Sink {
			return delivery.NewHTTPSink(conf.URL, time.Duration(conf.TimeoutMs)*time.Millisecond, conf.StrictStatus)
		},
	}
}

// Manage contains all the stream units and manages them
type Manage struct {
	Feed      *feed.Feed
	paths     Paths
	factories Factories
	clock     bool
	guard     sync.RWMutex
	conf      *Config
	units     []*monitor.Unit
	dialer    broker.Dialer
	store     *store.Store
	cancel    context.CancelFunc
	stop      context.CancelFunc
	wtr       *watcher.Watcher
	done      chan bool
}

// NewManage creates a new Manage
func NewManage(paths Paths, conf *Config, factories Factories) *Manage {
	m := &Manage{
		Feed:      feed.New(),
		paths:     paths,
		factories: factories,
		conf:      conf,
		done:      make(chan bool),
	}
	if paths.Config != "" {
		m.wtr = watcher.New()
		m.wtr.SetMaxEvents(1)
		m.wtr.FilterOps(watcher.Write, watcher.Create)
	}
	return m
}

// SetClock enables timing logs of motion detection and recognition
func (m *Manage) SetClock(clock bool) {
	m.clock = clock
}

// Start runs every stream until ctx is done
func (m *Manage) Start(ctx context.Context) error {
	ctx, m.stop = context.WithCancel(ctx)
	if err := m.startUnits(ctx, m.conf); err != nil {
		m.stop()
		return err
	}
	m.monitorConfigChanges()
	go m.run(ctx)
	return nil
}

// Stop the manage
func (m *Manage) Stop() {
	if m.stop != nil {
		m.stop()
	}
}

// Wait until all units stopped
func (m *Manage) Wait() {
	<-m.done
}

// Config returns the running config
func (m *Manage) Config() *Config {
	m.guard.RLock()
	defer m.guard.RUnlock()
	return m.conf
}

// GetStreamNames returns the unit names in camera order
func (m *Manage) GetStreamNames() (result []string) {
	m.guard.RLock()
	defer m.guard.RUnlock()
	result = make([]string, 0, len(m.units))
	for _, u := range m.units {
		result = append(result, u.Name)
	}
	return
}

// Status returns the report of every unit
func (m *Manage) Status() (result []monitor.Status) {
	m.guard.RLock()
	defer m.guard.RUnlock()
	result = make([]monitor.Status, 0, len(m.units))
	for _, u := range m.units {
		result = append(result, u.Status())
	}
	return
}

// GetStatus returns the report of the named unit
func (m *Manage) GetStatus(name string) (status monitor.Status, found bool) {
	m.guard.RLock()
	defer m.guard.RUnlock()
	for _, u := range m.units {
		if u.Name == name {
			return u.Status(), true
		}
	}
	return
}

func (m *Manage) run(ctx context.Context) {
	defer close(m.done)
	pruneTicker := time.NewTicker(PruneInterval)
	defer pruneTicker.Stop()
	var events <-chan watcher.Event
	var errs <-chan error
	if m.wtr != nil {
		events = m.wtr.Event
		errs = m.wtr.Error
	}
Loop:
	for {
		select {
		case <-ctx.Done():
			break Loop
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.reload(ctx, event.Path)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.WithField("subsystem", "manage").WithError(err).Warnln("Config watcher error")
		case <-pruneTicker.C:
			m.guard.RLock()
			s := m.store
			m.guard.RUnlock()
			if s != nil {
				s.Prune()
			}
		}
	}
	if m.wtr != nil {
		m.wtr.Close()
	}
	m.stopUnits()
	m.Feed.Close()
	log.Infoln("All streams stopped")
}

// resources are shared by the units of one config
type resources struct {
	conf   *Config
	dialer broker.Dialer
	plates *store.Store
	sink   delivery.Sink
}

// prepare creates the shared resources of conf without touching running units
func (m *Manage) prepare(conf *Config) (*resources, error) {
	dialer, err := m.factories.Dialer(conf.BrokerConfig())
	if err != nil {
		return nil, fmt.Errorf("create broker: %w", err)
	}
	r := &resources{conf: conf, dialer: dialer}
	if conf.StorePlates {
		r.plates, err = store.NewStore(conf.StorePlatesLocation, conf.SiteID, conf.StoreDeleteAfterHours, conf.StoreDeleteAfterGB)
		if err != nil {
			dialer.Close()
			return nil, fmt.Errorf("create plate store: %w", err)
		}
	}
	if conf.Upload.Enabled {
		r.sink = m.factories.Sink(conf.Upload)
	}
	return r, nil
}

func (m *Manage) startUnits(ctx context.Context, conf *Config) error {
	r, err := m.prepare(conf)
	if err != nil {
		return err
	}
	m.launch(ctx, r)
	return nil
}

func (m *Manage) launch(ctx context.Context, r *resources) {
	unitCtx, cancel := context.WithCancel(ctx)
	units := make([]*monitor.Unit, 0, len(r.conf.Streams))
	for index := range r.conf.Streams {
		u := m.setupUnit(index, r.conf, r.dialer, r.plates, r.sink)
		if u == nil {
			continue
		}
		units = append(units, u)
	}
	for _, u := range units {
		log.Infoln("Start stream", u.Name)
		u.Start(unitCtx)
	}
	m.guard.Lock()
	m.conf = r.conf
	m.units = units
	m.dialer = r.dialer
	m.store = r.plates
	m.cancel = cancel
	m.guard.Unlock()
}

func (m *Manage) setupUnit(index int, conf *Config, dialer broker.Dialer, plates *store.Store, sink delivery.Sink) *monitor.Unit {
	unitConf := conf.UnitConfig(index, m.clock)
	name := fmt.Sprintf("cam%d", unitConf.CameraID)
	logger := log.WithFields(log.Fields{
		"camera_id": unitConf.CameraID,
		"stream":    name,
	})
	recognizers := make([]recognizer.Recognizer, 0, len(m.paths.Recognizers))
	for _, configFile := range m.paths.Recognizers {
		rec, err := m.factories.Recognizer(unitConf.CameraID, conf.RecognizerConfig(configFile))
		if err != nil {
			logger.WithError(err).Errorln("Could not setup recognizer")
			for _, created := range recognizers {
				created.Close()
			}
			return nil
		}
		recognizers = append(recognizers, rec)
	}
	if len(recognizers) == 0 {
		logger.Errorln("No recognizer configured")
		return nil
	}
	return monitor.NewUnit(name, unitConf, monitor.Deps{
		Source:      m.factories.Source(name, unitConf.URL),
		Recognizers: recognizers,
		Dialer:      dialer,
		Sink:        sink,
		Store:       plates,
		Feed:        m.Feed,
	})
}

func (m *Manage) stopUnits() {
	m.guard.Lock()
	units := m.units
	dialer := m.dialer
	cancel := m.cancel
	m.units = nil
	m.dialer = nil
	m.store = nil
	m.cancel = nil
	m.guard.Unlock()
	for _, u := range units {
		log.Infoln("Stop stream", u.Name)
		u.Stop()
	}
	for _, u := range units {
		u.Wait()
	}
	if cancel != nil {
		cancel()
	}
	if dialer != nil {
		if err := dialer.Close(); err != nil {
			log.WithError(err).Warnln("Could not close broker")
		}
	}
}

// reload restarts every stream with the config at modPath when it is valid
func (m *Manage) reload(ctx context.Context, modPath string) {
	log.Infoln("Config changed", modPath)
	conf, err := LoadConfig(m.paths.Config)
	if err != nil {
		log.WithError(err).Errorln("Config change ignored, streams keep running")
		return
	}
	r, err := m.prepare(conf)
	if err != nil {
		log.WithError(err).Errorln("Config change could not be applied, streams keep running")
		return
	}
	m.stopUnits()
	m.launch(ctx, r)
	log.Infoln("Config restarted streams")
}

func (m *Manage) monitorConfigChanges() {
	if m.wtr == nil {
		return
	}
	for _, pathName := range m.paths.All() {
		if err := m.wtr.Add(pathName); err != nil {
			log.WithError(err).Warnln("Could not watch", pathName)
		}
	}
	go func() {
		if err := m.wtr.Start(time.Millisecond * 500); err != nil {
			log.Errorln(err)
			return
		}
	}()
}
