// Package broker is a durable job queue with reserve, delete, release and bury
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned by Reserve when no job became ready in time
	ErrTimeout = errors.New("broker: reserve timed out")
	// ErrNotFound is returned for a job id the broker does not hold reserved
	ErrNotFound = errors.New("broker: job not found")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("broker: connection closed")
)

// DefaultTTR is how long a reservation lasts before the job is ready again
const DefaultTTR = 60 * time.Second

// Job is a reserved unit of work
type Job struct {
	ID       uint64
	Body     []byte
	Releases int
}

// Conn is one client connection, owned by a single task
type Conn interface {
	Use(channel string) error
	Put(body []byte) (id uint64, err error)
	Watch(channel string) error
	Reserve(timeout time.Duration) (Job, error)
	Delete(id uint64) error
	Release(job Job) error
	Bury(job Job) error
	Close() error
}

// Dialer opens connections to one broker
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	Close() error
}

// Config selects and parameterizes a backend
type Config struct {
	Kind       string
	Host       string
	Port       int
	NatsURL    string
	SqlitePath string
	TTR        time.Duration
}

// Kinds of brokers
const (
	KindBeanstalk = "beanstalk"
	KindJetStream = "jetstream"
	KindSqlite    = "sqlite"
	KindMemory    = "memory"
)

// NewDialer creates the Dialer for conf
func NewDialer(conf Config) (Dialer, error) {
	if conf.TTR <= 0 {
		conf.TTR = DefaultTTR
	}
	switch strings.ToLower(conf.Kind) {
	case "", KindBeanstalk:
		return NewBeanstalkDialer(conf.Host, conf.Port, conf.TTR), nil
	case KindJetStream:
		return NewJetStreamDialer(conf.NatsURL, conf.TTR), nil
	case KindSqlite:
		return NewSqliteDialer(conf.SqlitePath, conf.TTR)
	case KindMemory:
		return NewMemoryServer(conf.TTR), nil
	}
	return nil, fmt.Errorf("unknown broker %q", conf.Kind)
}
