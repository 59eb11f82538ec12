package videosource

import (
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gocv.io/x/gocv"
)

const (
	// StaleTimeout is how long a camera may go without a frame before reconnecting
	StaleTimeout = 10 * time.Second
	// ReconnectDelay is the wait between connection attempts
	ReconnectDelay = time.Second
)

// IPCamSource is a ipcam source keeping only the latest frame
type IPCamSource struct {
	BaseVideo
	url        string
	guard      sync.Mutex
	latest     *Frame
	connection int
	sequence   uint64
	cancel     chan bool
	done       chan bool
}

// NewIPCamSource creates a new IPCamSource
func NewIPCamSource(name string, url string) VideoSource {
	i := &IPCamSource{
		BaseVideo: *NewBaseVideo(name),
		url:       url,
	}
	return i
}

// Initialize implements interface
func (i *IPCamSource) Initialize() (ok bool) {
	i.cancel = make(chan bool)
	i.done = make(chan bool)
	go i.run()
	ok = true
	return
}

func (i *IPCamSource) run() {
	defer close(i.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		if i.isCancelled() {
			return
		}
		capture, err := gocv.OpenVideoCapture(i.url)
		if err != nil {
			log.Warnf("Could not open video capture url: %s\n", i.url)
			if !i.pause(ReconnectDelay) {
				return
			}
			continue
		}
		i.guard.Lock()
		i.connection++
		i.guard.Unlock()
		log.Infoln("Connected", i.GetName())
		i.read(capture)
		capture.Close()
		if !i.pause(ReconnectDelay) {
			return
		}
	}
}

func (i *IPCamSource) read(capture *gocv.VideoCapture) {
	lastFrame := time.Now()
	for {
		if i.isCancelled() {
			return
		}
		mat := gocv.NewMat()
		if !capture.Read(&mat) || mat.Empty() {
			mat.Close()
			if time.Since(lastFrame) > StaleTimeout {
				log.Warnln("No frames received, reconnecting", i.GetName())
				return
			}
			if !i.pause(10 * time.Millisecond) {
				return
			}
			continue
		}
		lastFrame = time.Now()
		i.guard.Lock()
		i.sequence++
		frame := NewFrame(mat, i.sequence)
		if i.latest != nil {
			i.latest.Cleanup()
		}
		i.latest = frame
		i.guard.Unlock()
	}
}

func (i *IPCamSource) isCancelled() bool {
	select {
	case <-i.cancel:
		return true
	default:
		return false
	}
}

func (i *IPCamSource) pause(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-i.cancel:
		return false
	case <-timer.C:
		return true
	}
}

// Cleanup implements interface
func (i *IPCamSource) Cleanup() {
	if i.cancel != nil {
		close(i.cancel)
		<-i.done
		i.cancel = nil
	}
	i.guard.Lock()
	if i.latest != nil {
		i.latest.Cleanup()
		i.latest = nil
	}
	i.guard.Unlock()
}

// ReadFrame implements interface
func (i *IPCamSource) ReadFrame() (done bool, frame Frame, connection int) {
	i.guard.Lock()
	defer i.guard.Unlock()
	connection = i.connection
	if i.latest != nil {
		frame = *i.latest
		i.latest = nil
	}
	return
}
