package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// JetStreamDialer uses a NATS JetStream work queue stream per channel.
// Ack wait is the TTR, Nak releases and Term buries.
type JetStreamDialer struct {
	url string
	ttr time.Duration
}

// NewJetStreamDialer creates a new JetStreamDialer
func NewJetStreamDialer(url string, ttr time.Duration) *JetStreamDialer {
	if url == "" {
		url = nats.DefaultURL
	}
	if ttr <= 0 {
		ttr = DefaultTTR
	}
	d := &JetStreamDialer{
		url: url,
		ttr: ttr,
	}
	return d
}

// Dial implements Dialer
func (d *JetStreamDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	nc, err := nats.Connect(d.url, nats.Name("alprd"), nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", d.url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	c := &jetStreamConn{
		nc:      nc,
		js:      js,
		ttr:     d.ttr,
		pending: make(map[uint64]*nats.Msg),
	}
	return c, nil
}

// Close implements Dialer
func (d *JetStreamDialer) Close() error {
	return nil
}

// StreamName returns the stream holding channel
func StreamName(channel string) string {
	replacer := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return "ALPRD_" + strings.ToUpper(replacer.Replace(channel))
}

// Subject returns the subject jobs of channel are published on
func Subject(channel string) string {
	return "alprd.jobs." + strings.NewReplacer(" ", "_").Replace(channel)
}

type jetStreamConn struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	ttr     time.Duration
	subject string
	sub     *nats.Subscription
	pending map[uint64]*nats.Msg
}

func (c *jetStreamConn) ensureStream(channel string) error {
	name := StreamName(channel)
	_, err := c.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{Subject(channel)},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

func (c *jetStreamConn) Use(channel string) error {
	if err := c.ensureStream(channel); err != nil {
		return err
	}
	c.subject = Subject(channel)
	return nil
}

func (c *jetStreamConn) Put(body []byte) (uint64, error) {
	if c.subject == "" {
		if err := c.Use("default"); err != nil {
			return 0, err
		}
	}
	ack, err := c.js.Publish(c.subject, body)
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", c.subject, err)
	}
	return ack.Sequence, nil
}

func (c *jetStreamConn) Watch(channel string) error {
	if err := c.ensureStream(channel); err != nil {
		return err
	}
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	durable := StreamName(channel) + "_UPLOAD"
	sub, err := c.js.PullSubscribe(Subject(channel), durable,
		nats.BindStream(StreamName(channel)), nats.AckWait(c.ttr))
	if err != nil {
		return fmt.Errorf("pull subscribe %s: %w", channel, err)
	}
	c.sub = sub
	return nil
}

func (c *jetStreamConn) Reserve(timeout time.Duration) (job Job, err error) {
	if c.sub == nil {
		if err = c.Watch("default"); err != nil {
			return
		}
	}
	msgs, err := c.sub.Fetch(1, nats.MaxWait(timeout))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
			return
		}
		if errors.Is(err, nats.ErrConnectionClosed) {
			err = ErrClosed
		}
		return
	}
	if len(msgs) == 0 {
		err = ErrTimeout
		return
	}
	msg := msgs[0]
	meta, err := msg.Metadata()
	if err != nil {
		msg.Nak()
		err = fmt.Errorf("job metadata: %w", err)
		return
	}
	job = Job{
		ID:       meta.Sequence.Stream,
		Body:     msg.Data,
		Releases: int(meta.NumDelivered) - 1,
	}
	c.pending[job.ID] = msg
	return
}

func (c *jetStreamConn) take(id uint64) (*nats.Msg, error) {
	msg, ok := c.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(c.pending, id)
	return msg, nil
}

func (c *jetStreamConn) Delete(id uint64) error {
	msg, err := c.take(id)
	if err != nil {
		return err
	}
	return msg.AckSync()
}

func (c *jetStreamConn) Release(job Job) error {
	msg, err := c.take(job.ID)
	if err != nil {
		return err
	}
	return msg.Nak()
}

func (c *jetStreamConn) Bury(job Job) error {
	msg, err := c.take(job.ID)
	if err != nil {
		return err
	}
	return msg.Term()
}

func (c *jetStreamConn) Close() error {
	c.nc.Close()
	return nil
}
