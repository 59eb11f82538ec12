package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/beanstalkd/go-beanstalk"
)

const (
	// DefaultBeanstalkHost is where beanstalkd listens by default
	DefaultBeanstalkHost = "127.0.0.1"
	// DefaultBeanstalkPort is the beanstalkd default port
	DefaultBeanstalkPort = 11300

	beanstalkPriority = 1024
	dialTimeout       = 10 * time.Second
)

// BeanstalkDialer connects to a beanstalkd server
type BeanstalkDialer struct {
	address string
	ttr     time.Duration
}

// NewBeanstalkDialer creates a new BeanstalkDialer
func NewBeanstalkDialer(host string, port int, ttr time.Duration) *BeanstalkDialer {
	if host == "" {
		host = DefaultBeanstalkHost
	}
	if port <= 0 {
		port = DefaultBeanstalkPort
	}
	if ttr <= 0 {
		ttr = DefaultTTR
	}
	d := &BeanstalkDialer{
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		ttr:     ttr,
	}
	return d
}

// Dial implements Dialer
func (d *BeanstalkDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, fmt.Errorf("dial beanstalkd %s: %w", d.address, err)
	}
	conn := beanstalk.NewConn(nc)
	c := &beanstalkConn{
		conn: conn,
		tube: &beanstalk.Tube{Conn: conn, Name: "default"},
		ttr:  d.ttr,
	}
	c.tubes = beanstalk.NewTubeSet(conn, "default")
	return c, nil
}

// Close implements Dialer
func (d *BeanstalkDialer) Close() error {
	return nil
}

type beanstalkConn struct {
	conn  *beanstalk.Conn
	tube  *beanstalk.Tube
	tubes *beanstalk.TubeSet
	ttr   time.Duration
}

func (c *beanstalkConn) Use(channel string) error {
	c.tube = &beanstalk.Tube{Conn: c.conn, Name: channel}
	return nil
}

func (c *beanstalkConn) Put(body []byte) (uint64, error) {
	id, err := c.tube.Put(body, beanstalkPriority, 0, c.ttr)
	if err != nil {
		return 0, mapBeanstalkError(err)
	}
	return id, nil
}

func (c *beanstalkConn) Watch(channel string) error {
	c.tubes = beanstalk.NewTubeSet(c.conn, channel)
	return nil
}

func (c *beanstalkConn) Reserve(timeout time.Duration) (job Job, err error) {
	id, body, err := c.tubes.Reserve(timeout)
	if err != nil {
		err = mapBeanstalkError(err)
		return
	}
	job = Job{ID: id, Body: body}
	stats, err := c.conn.StatsJob(id)
	if err != nil {
		err = mapBeanstalkError(err)
		return
	}
	job.Releases, _ = strconv.Atoi(stats["releases"])
	return
}

func (c *beanstalkConn) Delete(id uint64) error {
	return mapBeanstalkError(c.conn.Delete(id))
}

func (c *beanstalkConn) Release(job Job) error {
	return mapBeanstalkError(c.conn.Release(job.ID, beanstalkPriority, 0))
}

func (c *beanstalkConn) Bury(job Job) error {
	return mapBeanstalkError(c.conn.Bury(job.ID, beanstalkPriority))
}

func (c *beanstalkConn) Close() error {
	return c.conn.Close()
}

func mapBeanstalkError(err error) error {
	if err == nil {
		return nil
	}
	var connErr beanstalk.ConnError
	cause := err
	if errors.As(err, &connErr) {
		cause = connErr.Err
	}
	switch cause {
	case beanstalk.ErrTimeout, beanstalk.ErrDeadline:
		return ErrTimeout
	case beanstalk.ErrNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
