package delivery

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/broker"
)

// Queue submits jobs to the broker, owned by a single producer
type Queue struct {
	dialer  broker.Dialer
	channel string
	conn    broker.Conn
	log     *log.Entry
}

// NewQueue creates a new Queue, the broker is dialed on first submit
func NewQueue(dialer broker.Dialer, channel string, logger *log.Entry) *Queue {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	q := &Queue{
		dialer:  dialer,
		channel: channel,
		log:     logger,
	}
	return q
}

// Submit puts body on the channel. On failure the job is dropped and the
// connection discarded so the next submit reconnects.
func (q *Queue) Submit(ctx context.Context, body []byte) (id uint64, err error) {
	if q.conn == nil {
		conn, dialErr := q.dialer.Dial(ctx)
		if dialErr != nil {
			err = fmt.Errorf("dial broker: %w", dialErr)
			q.log.WithError(err).Warnln("Error connecting to broker. Result has not been saved.")
			return
		}
		if useErr := conn.Use(q.channel); useErr != nil {
			conn.Close()
			err = fmt.Errorf("use %s: %w", q.channel, useErr)
			q.log.WithError(err).Warnln("Error connecting to broker. Result has not been saved.")
			return
		}
		q.conn = conn
	}
	id, err = q.conn.Put(body)
	if err != nil {
		err = fmt.Errorf("put: %w", err)
		q.log.WithError(err).Warnln("Error writing to broker. Result has not been saved.")
		q.conn.Close()
		q.conn = nil
		return
	}
	return
}

// Close releases the connection
func (q *Queue) Close() error {
	if q.conn == nil {
		return nil
	}
	err := q.conn.Close()
	q.conn = nil
	return err
}
