// Package feed fans detection events out to live subscribers
package feed

import (
	"sync"
	"time"

	"github.com/jonoton/go-pubsubmutex"
)

const topicDetections = "topic-detections"

// Event is one delivered detection
type Event struct {
	UUID      string    `json:"uuid"`
	CameraID  int       `json:"camera_id"`
	SiteID    string    `json:"site_id"`
	Worker    int       `json:"worker"`
	Plates    []string  `json:"plates"`
	ImageFile string    `json:"image_file,omitempty"`
	Time      time.Time `json:"time"`
}

// Feed publishes events to any number of subscribers
type Feed struct {
	pubsub    *pubsubmutex.PubSub
	closeOnce sync.Once
}

// New creates a new Feed
func New() *Feed {
	f := &Feed{
		pubsub: pubsubmutex.NewPubSub(),
	}
	pubsubmutex.RegisterTopic[Event](f.pubsub, topicDetections)
	return f
}

// Publish sends e to all subscribers
func (f *Feed) Publish(e Event) {
	pubsubmutex.Publish(f.pubsub,
		pubsubmutex.Message[Event]{Topic: topicDetections, Data: e})
}

// Subscribe returns a channel of events closed by cancel or Close
func (f *Feed) Subscribe(bufferSize int) (events <-chan Event, cancel func(), err error) {
	sub, err := pubsubmutex.Subscribe[Event](f.pubsub,
		topicDetections, f.pubsub.GetUniqueSubscriberID(), bufferSize)
	if err != nil {
		return
	}
	out := make(chan Event, bufferSize)
	done := make(chan bool)
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-sub.Ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Data:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			close(done)
			sub.Unsubscribe()
		})
	}
	events = out
	return
}

// Close shuts down all subscriptions
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		f.pubsub.Close()
	})
}
