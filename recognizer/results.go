package recognizer

import (
	"encoding/json"
	"fmt"
)

// Coordinate is one plate corner
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Candidate is one alternative reading of a plate
type Candidate struct {
	Plate           string  `json:"plate"`
	Confidence      float64 `json:"confidence"`
	MatchesTemplate int     `json:"matches_template"`
}

// Plate is one recognized plate
type Plate struct {
	Plate            string       `json:"plate"`
	Confidence       float64      `json:"confidence"`
	MatchesTemplate  int          `json:"matches_template"`
	PlateIndex       int          `json:"plate_index"`
	Region           string       `json:"region"`
	RegionConfidence int          `json:"region_confidence"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
	RequestedTopN    int          `json:"requested_topn"`
	Coordinates      []Coordinate `json:"coordinates"`
	Candidates       []Candidate  `json:"candidates"`
}

// RegionOfInterest is an area the engine was asked to search
type RegionOfInterest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Results is the engine output for one frame
type Results struct {
	Version           int                `json:"version"`
	DataType          string             `json:"data_type"`
	EpochTime         int64              `json:"epoch_time"`
	ImgWidth          int                `json:"img_width"`
	ImgHeight         int                `json:"img_height"`
	ProcessingTimeMs  float64            `json:"processing_time_ms"`
	RegionsOfInterest []RegionOfInterest `json:"regions_of_interest"`
	Plates            []Plate            `json:"results"`
	// Raw is the engine document as received, keeps fields not modeled above
	Raw json.RawMessage `json:"-"`
}

// Empty is true when no plate was found
func (r *Results) Empty() bool {
	return len(r.Plates) == 0
}

// Document returns the result as a generic JSON object.
// Fields of Raw are kept, modeled fields take the current values.
func (r *Results) Document() (map[string]interface{}, error) {
	doc := make(map[string]interface{})
	if len(r.Raw) > 0 {
		if err := json.Unmarshal(r.Raw, &doc); err != nil {
			return nil, fmt.Errorf("decode raw results: %w", err)
		}
	}
	modeled, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(modeled, &fields); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	for key, value := range fields {
		doc[key] = value
	}
	return doc, nil
}

// Parse decodes an engine document keeping it as Raw
func Parse(data []byte) (Results, error) {
	var r Results
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse results: %w", err)
	}
	r.Raw = append(json.RawMessage(nil), data...)
	return r, nil
}
