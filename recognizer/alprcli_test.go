package recognizer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jonoton/alprd/videosource"
	"gocv.io/x/gocv"
)

const fakeOutput = `{"version":2,"data_type":"alpr_results","epoch_time":1,"img_width":50,"img_height":40,` +
	`"processing_time_ms":3.5,"regions_of_interest":[],"engine_build":"test",` +
	`"results":[{"plate":"ABC123","confidence":91.5,"matches_template":1,"plate_index":0,` +
	`"region":"ca","region_confidence":80,"processing_time_ms":1.2,"requested_topn":5,` +
	`"coordinates":[{"x":1,"y":2},{"x":11,"y":2},{"x":11,"y":8},{"x":1,"y":8}],` +
	`"candidates":[{"plate":"ABC123","confidence":91.5,"matches_template":1}]}]}`

func writeFakeCommand(t *testing.T, output string) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell script commands need a unix shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "alpr")
	script := "#!/bin/sh\ncat > /dev/null\necho '" + output + "'\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake command: %v\n", err)
	}
	return path
}

func TestCommandRecognizer(t *testing.T) {
	path := writeFakeCommand(t, fakeOutput)
	r, err := NewCommandRecognizer(Config{Command: path, TopN: 5, ConfigFile: "openalpr.conf1"})
	if err != nil {
		t.Fatalf("NewCommandRecognizer: %v\n", err)
	}
	defer r.Close()

	frame := videosource.NewFrame(gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3), 1)
	defer frame.Cleanup()
	region := videosource.Region{X: 20, Y: 30, Width: 50, Height: 40}
	results, err := r.Recognize(context.Background(), *frame, []videosource.Region{region})
	if err != nil {
		t.Fatalf("Recognize: %v\n", err)
	}
	if len(results.Plates) != 1 || results.Plates[0].Plate != "ABC123" {
		t.Fatalf("plates = %+v\n", results.Plates)
	}
	corner := results.Plates[0].Coordinates[0]
	if corner.X != 21 || corner.Y != 32 {
		t.Fatalf("corner = %+v, expected translated to 21,32\n", corner)
	}
	if results.ImgWidth != 160 || results.ImgHeight != 120 {
		t.Fatalf("size = %dx%d, expected frame size\n", results.ImgWidth, results.ImgHeight)
	}

	doc, err := results.Document()
	if err != nil {
		t.Fatalf("Document: %v\n", err)
	}
	if doc["engine_build"] != "test" {
		t.Fatalf("unmodeled field lost: %v\n", doc)
	}
	if doc["img_width"].(float64) != 160 {
		t.Fatalf("img_width = %v, expected 160\n", doc["img_width"])
	}
}

func TestCommandRecognizerNoPlates(t *testing.T) {
	path := writeFakeCommand(t, `{"version":2,"data_type":"alpr_results","results":[]}`)
	r, err := NewCommandRecognizer(Config{Command: path})
	if err != nil {
		t.Fatalf("NewCommandRecognizer: %v\n", err)
	}
	frame := videosource.NewFrame(gocv.NewMatWithSize(60, 80, gocv.MatTypeCV8UC3), 1)
	defer frame.Cleanup()
	results, err := r.Recognize(context.Background(), *frame, nil)
	if err != nil {
		t.Fatalf("Recognize: %v\n", err)
	}
	if !results.Empty() {
		t.Fatalf("plates = %+v, expected none\n", results.Plates)
	}
	if len(results.RegionsOfInterest) != 1 || results.RegionsOfInterest[0].Width != 80 {
		t.Fatalf("regions = %+v, expected full frame\n", results.RegionsOfInterest)
	}
}

func TestCommandMissing(t *testing.T) {
	if _, err := NewCommandRecognizer(Config{Command: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("missing command accepted\n")
	}
}

func TestCommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script commands need a unix shell")
	}
	path := filepath.Join(t.TempDir(), "alpr")
	if err := os.WriteFile(path, []byte("#!/bin/sh\ncat > /dev/null\necho broken >&2\nexit 3\n"), 0755); err != nil {
		t.Fatalf("write fake command: %v\n", err)
	}
	r, err := NewCommandRecognizer(Config{Command: path})
	if err != nil {
		t.Fatalf("NewCommandRecognizer: %v\n", err)
	}
	frame := videosource.NewFrame(gocv.NewMatWithSize(60, 80, gocv.MatTypeCV8UC3), 1)
	defer frame.Cleanup()
	if _, err := r.Recognize(context.Background(), *frame, nil); err == nil {
		t.Fatalf("failing command returned no error\n")
	}
}
