package videosource

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"gocv.io/x/gocv"
)

// FileSource is a file source read frame by frame
type FileSource struct {
	BaseVideo
	filename         string
	gocvVideoCapture *gocv.VideoCapture
	sequence         uint64
}

// NewFileSource creates a new FileSource
func NewFileSource(name string, filename string) VideoSource {
	v := &FileSource{
		BaseVideo:        *NewBaseVideo(name),
		filename:         filename,
		gocvVideoCapture: nil,
	}
	return v
}

// Initialize implements interface
func (f *FileSource) Initialize() (ok bool) {
	gocvVideoCapture, err := gocv.VideoCaptureFile(f.filename)
	if err != nil {
		log.Warnf("Could not open video capture file: %s\n", f.filename)
		return
	}
	f.gocvVideoCapture = gocvVideoCapture
	ok = true
	return
}

// Cleanup implements interface
func (f *FileSource) Cleanup() {
	if f.gocvVideoCapture != nil {
		f.gocvVideoCapture.Close()
		f.gocvVideoCapture = nil
	}
}

// ReadFrame implements interface
func (f *FileSource) ReadFrame() (done bool, frame Frame, connection int) {
	if f.gocvVideoCapture == nil {
		done = true
		return
	}
	connection = 1
	mat := gocv.NewMat()
	done = !f.gocvVideoCapture.Read(&mat)
	if done {
		mat.Close()
		return
	}
	f.sequence++
	frame = *NewFrame(mat, f.sequence)
	return
}

func isFile(address string) bool {
	if strings.Contains(address, "://") {
		return strings.HasPrefix(address, "file://")
	}
	if _, err := os.Stat(address); err == nil {
		return true
	}
	return false
}
