// Package delivery moves recognition results through the broker to the sink
package delivery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonoton/alprd/recognizer"
	"github.com/valyala/bytebufferpool"
)

// Enrichment contains the fields added to every recognizer result
type Enrichment struct {
	UUID      string
	CameraID  int
	SiteID    string
	CompanyID string
	ImgWidth  int
	ImgHeight int
	ImageFile string
}

// CorrelationID builds the id of one detection used for deduplication downstream
func CorrelationID(siteID string, cameraID int, captured time.Time, sequence uint64) string {
	return fmt.Sprintf("%s-cam%d-%d-%d", siteID, cameraID, captured.UnixMilli(), sequence)
}

// Encode returns the job body: the recognizer document with enrichment at the top level
func Encode(results recognizer.Results, e Enrichment) ([]byte, error) {
	doc, err := results.Document()
	if err != nil {
		return nil, err
	}
	doc["uuid"] = e.UUID
	doc["camera_id"] = e.CameraID
	doc["site_id"] = e.SiteID
	doc["img_width"] = e.ImgWidth
	doc["img_height"] = e.ImgHeight
	if e.CompanyID != "" {
		doc["company_id"] = e.CompanyID
	}
	if e.ImageFile != "" {
		doc["image_file"] = e.ImageFile
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	body := bytes.TrimRight(buf.B, "\n")
	return append([]byte(nil), body...), nil
}
