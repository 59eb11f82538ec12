package monitor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/delivery"
	"github.com/jonoton/alprd/feed"
	"github.com/jonoton/alprd/recognizer"
	"github.com/jonoton/alprd/store"
	"github.com/jonoton/alprd/videosource"
	"github.com/jonoton/alprd/workqueue"
)

// recognition drains one queue through one recognizer into the broker
type recognition struct {
	index        int
	conf         *Config
	queue        *workqueue.Queue[Item]
	recognizer   recognizer.Recognizer
	submit       *delivery.Queue
	store        *store.Store
	feed         *feed.Feed
	idleInterval time.Duration
	stats        *Stats
	log          *log.Entry
}

func (r *recognition) run(ctx context.Context) error {
	defer r.submit.Close()
	r.log.Infoln("Recognition worker started")
	defer r.log.Infoln("Recognition worker stopped")
	for ctx.Err() == nil {
		item, ok := r.queue.TryPop()
		if !ok {
			if !pause(ctx, r.idleInterval) {
				break
			}
			continue
		}
		r.process(ctx, item)
	}
	return nil
}

// process takes ownership of the item frame
func (r *recognition) process(ctx context.Context, item Item) {
	defer item.Frame.Cleanup()
	start := time.Now()
	results, err := r.recognizer.Recognize(ctx, item.Frame, []videosource.Region{item.Region})
	r.stats.Recognized.Add(1)
	if r.conf.Clock {
		r.log.Debugf("Recognition on frame %d took %v", item.Frame.Sequence, time.Since(start))
	}
	if err != nil {
		r.stats.Failed.Add(1)
		if ctx.Err() == nil {
			r.log.WithError(err).Warnln("Recognition failed")
		}
		return
	}
	if results.Empty() {
		return
	}
	r.stats.WithPlates.Add(1)

	id := delivery.CorrelationID(r.conf.SiteID, r.conf.CameraID, item.Frame.CreatedTime, item.Frame.Sequence)
	enrichment := delivery.Enrichment{
		UUID:      id,
		CameraID:  r.conf.CameraID,
		SiteID:    r.conf.SiteID,
		CompanyID: r.conf.CompanyID,
		ImgWidth:  item.Frame.Width(),
		ImgHeight: item.Frame.Height(),
	}
	if r.store != nil {
		path, err := r.store.Save(id, item.Frame)
		if err != nil {
			r.log.WithError(err).Warnln("Could not store plate image")
		} else {
			enrichment.ImageFile = path
		}
	}
	body, err := delivery.Encode(results, enrichment)
	if err != nil {
		r.log.WithError(err).Errorln("Could not encode results")
		return
	}
	plates := make([]string, 0, len(results.Plates))
	for _, plate := range results.Plates {
		r.log.Infof("Writing plate %s (%s) to queue.", plate.Plate, id)
		plates = append(plates, plate.Plate)
	}
	if _, err := r.submit.Submit(ctx, body); err != nil {
		r.stats.Dropped.Add(1)
	} else {
		r.stats.Submitted.Add(1)
	}
	if r.feed != nil {
		r.feed.Publish(feed.Event{
			UUID:      id,
			CameraID:  r.conf.CameraID,
			SiteID:    r.conf.SiteID,
			Worker:    r.index,
			Plates:    plates,
			ImageFile: enrichment.ImageFile,
			Time:      item.Frame.CreatedTime,
		})
	}
}
