package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/alprd/videosource"
	"gocv.io/x/gocv"
)

// CommandRecognizer runs the alpr command line tool once per region
type CommandRecognizer struct {
	conf Config
	path string
}

// NewCommandRecognizer creates a new CommandRecognizer
func NewCommandRecognizer(conf Config) (*CommandRecognizer, error) {
	conf.SetDefaults()
	path, err := exec.LookPath(conf.Command)
	if err != nil {
		return nil, fmt.Errorf("recognizer command %s: %w", conf.Command, err)
	}
	c := &CommandRecognizer{
		conf: conf,
		path: path,
	}
	return c, nil
}

// Recognize implements interface
func (c *CommandRecognizer) Recognize(ctx context.Context, frame videosource.Frame, regions []videosource.Region) (results Results, err error) {
	if !frame.IsValid() {
		return
	}
	start := time.Now()
	if len(regions) == 0 {
		regions = []videosource.Region{frame.Bounds()}
	}
	results.Version = 2
	results.DataType = "alpr_results"
	results.EpochTime = frame.CreatedTime.UnixMilli()
	results.ImgWidth = frame.Width()
	results.ImgHeight = frame.Height()
	for _, region := range regions {
		rect := videosource.CorrectRectangle(region.Rect(), frame.Width(), frame.Height())
		if rect.Empty() {
			continue
		}
		results.RegionsOfInterest = append(results.RegionsOfInterest, RegionOfInterest{
			X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy(),
		})
		partial, runErr := c.run(ctx, frame, rect)
		if runErr != nil {
			err = runErr
			return
		}
		for _, plate := range partial.Plates {
			for index := range plate.Coordinates {
				plate.Coordinates[index].X += rect.Min.X
				plate.Coordinates[index].Y += rect.Min.Y
			}
			plate.PlateIndex = len(results.Plates)
			results.Plates = append(results.Plates, plate)
		}
		if len(regions) == 1 {
			results.Raw = partial.Raw
			if partial.Version > 0 {
				results.Version = partial.Version
			}
		}
	}
	results.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return
}

func (c *CommandRecognizer) run(ctx context.Context, frame videosource.Frame, rect image.Rectangle) (results Results, err error) {
	crop := frame.Mat.Region(rect)
	defer crop.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, crop)
	if err != nil {
		err = fmt.Errorf("encode region: %w", err)
		return
	}
	defer buf.Close()

	args := []string{"-c", c.conf.Country, "-n", strconv.Itoa(c.conf.TopN), "-j"}
	if c.conf.ConfigFile != "" {
		args = append(args, "--config", c.conf.ConfigFile)
	}
	args = append(args, "-")
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdin = bytes.NewReader(buf.GetBytes())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		err = fmt.Errorf("run %s: %w: %s", c.conf.Command, err, bytes.TrimSpace(stderr.Bytes()))
		return
	}
	output = bytes.TrimSpace(output)
	if len(output) == 0 {
		log.Debugln("Recognizer returned no output")
		return
	}
	results, err = Parse(output)
	return
}

// Close implements interface
func (c *CommandRecognizer) Close() error {
	return nil
}
