package motion

import (
	"image"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/videosource"
	"gocv.io/x/gocv"
)

// Gate finds the part of a frame that changed against the background model
type Gate struct {
	enabled       bool
	roi           videosource.Region
	history       int
	varThreshold  float64
	detectShadows bool
	erodeSize     int
	debugShow     bool
	mog2          *gocv.BackgroundSubtractorMOG2
	kernel        gocv.Mat
	window        *gocv.Window
}

// NewGate creates a new Gate
func NewGate() *Gate {
	g := &Gate{
		enabled:       false,
		history:       500,
		varThreshold:  16,
		detectShadows: false,
		erodeSize:     200,
	}
	return g
}

// SetConfig on gate
func (g *Gate) SetConfig(config *Config) {
	if config != nil {
		g.enabled = config.IsEnabled()
		g.roi = config.ROI
		if config.History > 0 {
			g.history = config.History
		}
		if config.VarThreshold > 0 {
			g.varThreshold = config.VarThreshold
		}
		g.detectShadows = config.DetectShadows
		if config.ErodeSize > 0 {
			g.erodeSize = config.ErodeSize
		}
		g.debugShow = config.DebugShow
	}
	g.closeKernel()
}

// Enabled returns if detection is on
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Reset recreates the background model from frame
func (g *Gate) Reset(frame videosource.Frame) {
	if !g.enabled {
		return
	}
	g.closeModel()
	mog2 := gocv.NewBackgroundSubtractorMOG2WithParams(g.history, g.varThreshold, g.detectShadows)
	g.mog2 = &mog2
	if !frame.IsValid() {
		return
	}
	mask := gocv.NewMat()
	defer mask.Close()
	g.apply(frame, &mask)
}

// Detect returns the bounding region of all motion in frame, empty for none
func (g *Gate) Detect(frame videosource.Frame) (region videosource.Region) {
	if !frame.IsValid() {
		return
	}
	if !g.enabled {
		return frame.Bounds()
	}
	if g.mog2 == nil {
		g.Reset(frame)
	}
	mask := gocv.NewMat()
	defer mask.Close()
	roi := g.apply(frame, &mask)

	if g.kernel.Ptr() == nil {
		g.kernel = gocv.GetStructuringElement(gocv.MorphRect, image.Pt(g.erodeSize, g.erodeSize))
	}
	gocv.Erode(mask, &mask, g.kernel)
	if g.debugShow {
		g.show(mask)
	}

	contours := gocv.FindContours(mask, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()
	rects := make([]image.Rectangle, 0, contours.Size())
	for index := 0; index < contours.Size(); index++ {
		rects = append(rects, gocv.BoundingRect(contours.At(index)))
	}
	union := videosource.RectUnion(rects)
	if union.Empty() {
		return
	}
	union = union.Add(roi.Min)
	region = videosource.RegionFromRect(videosource.CorrectRectangle(union, frame.Width(), frame.Height()))
	return
}

// apply runs the model on the roi of frame and returns the roi used
func (g *Gate) apply(frame videosource.Frame, mask *gocv.Mat) (roi image.Rectangle) {
	roi = image.Rect(0, 0, frame.Width(), frame.Height())
	if g.roi.IsValid() {
		clamped := videosource.CorrectRectangle(g.roi.Rect(), frame.Width(), frame.Height())
		if !clamped.Empty() {
			roi = clamped
		}
	}
	if roi.Eq(image.Rect(0, 0, frame.Width(), frame.Height())) {
		g.mog2.Apply(frame.Mat, mask)
		return
	}
	sub := frame.Mat.Region(roi)
	defer sub.Close()
	g.mog2.Apply(sub, mask)
	return
}

func (g *Gate) show(mask gocv.Mat) {
	if g.window == nil {
		g.window = gocv.NewWindow("Motion")
	}
	g.window.IMShow(mask)
	g.window.WaitKey(1)
}

func (g *Gate) closeModel() {
	if g.mog2 != nil {
		g.mog2.Close()
		g.mog2 = nil
	}
}

func (g *Gate) closeKernel() {
	if g.kernel.Ptr() != nil {
		g.kernel.Close()
	}
	g.kernel = gocv.Mat{}
}

// Close releases the model
func (g *Gate) Close() {
	g.closeModel()
	g.closeKernel()
	if g.window != nil {
		g.window.Close()
		g.window = nil
		log.Debugln("Motion window closed")
	}
}
