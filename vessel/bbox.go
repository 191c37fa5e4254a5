package vessel

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/c360/shipstream/errors"
)

// Point is a [lat, lon] pair.
type Point [2]float64

// Lat returns the latitude component.
func (p Point) Lat() float64 { return p[0] }

// Lon returns the longitude component.
func (p Point) Lon() float64 { return p[1] }

// BoundingBox is a pair of opposite corners. The wire form is [[lat,lon],[lat,lon]].
type BoundingBox [2]Point

// WorldBox covers the whole globe.
var WorldBox = BoundingBox{{-90, -180}, {90, 180}}

// Validate checks both corners are finite and within coordinate ranges.
func (b BoundingBox) Validate() error {
	for i, p := range b {
		if math.IsNaN(p.Lat()) || math.IsNaN(p.Lon()) {
			return errors.WrapInvalid(errors.ErrInvalidData, "BoundingBox", "Validate",
				fmt.Sprintf("corner %d is not a number", i))
		}
		if p.Lat() < -90 || p.Lat() > 90 {
			return errors.WrapInvalid(errors.ErrInvalidData, "BoundingBox", "Validate",
				fmt.Sprintf("corner %d latitude %v out of range", i, p.Lat()))
		}
		if p.Lon() < -180 || p.Lon() > 180 {
			return errors.WrapInvalid(errors.ErrInvalidData, "BoundingBox", "Validate",
				fmt.Sprintf("corner %d longitude %v out of range", i, p.Lon()))
		}
	}
	return nil
}

// Contains reports whether the point lies inside the box, inclusive of edges.
// Corners may be given in either order.
func (b BoundingBox) Contains(lat, lon float64) bool {
	latMin, latMax := math.Min(b[0].Lat(), b[1].Lat()), math.Max(b[0].Lat(), b[1].Lat())
	lonMin, lonMax := math.Min(b[0].Lon(), b[1].Lon()), math.Max(b[0].Lon(), b[1].Lon())
	return lat >= latMin && lat <= latMax && lon >= lonMin && lon <= lonMax
}

// ValidateBoxes validates a subscription filter. At least one box is required.
func ValidateBoxes(boxes []BoundingBox) error {
	if len(boxes) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "BoundingBox", "ValidateBoxes",
			"at least one bounding box is required")
	}
	for _, b := range boxes {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseBoundingBoxes decodes a subscription filter from any of the accepted shapes:
//
//	[[lat,lon],[lat,lon]]                  a single box
//	[[[lat,lon],[lat,lon]], ...]           a list of boxes
//	{"boundingBox": <single box>}
//	{"boundingBoxes": <list of boxes>}
//
// The result is validated.
func ParseBoundingBoxes(raw []byte) ([]BoundingBox, error) {
	boxes, err := parseBoxesShape(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateBoxes(boxes); err != nil {
		return nil, err
	}
	return boxes, nil
}

func parseBoxesShape(raw []byte) ([]BoundingBox, error) {
	var list [][][]float64
	if err := json.Unmarshal(raw, &list); err == nil {
		boxes := make([]BoundingBox, 0, len(list))
		for i, corners := range list {
			box, err := toBox(corners)
			if err != nil {
				return nil, errors.WrapInvalid(err, "BoundingBox", "ParseBoundingBoxes",
					fmt.Sprintf("box %d", i))
			}
			boxes = append(boxes, box)
		}
		return boxes, nil
	}

	var single [][]float64
	if err := json.Unmarshal(raw, &single); err == nil {
		box, err := toBox(single)
		if err != nil {
			return nil, errors.WrapInvalid(err, "BoundingBox", "ParseBoundingBoxes", "single box")
		}
		return []BoundingBox{box}, nil
	}

	var wrapped struct {
		BoundingBox   json.RawMessage `json:"boundingBox"`
		BoundingBoxes json.RawMessage `json:"boundingBoxes"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, errors.WrapInvalid(err, "BoundingBox", "ParseBoundingBoxes", "decode body")
	}

	switch {
	case len(wrapped.BoundingBoxes) > 0:
		return parseBoxesShape(wrapped.BoundingBoxes)
	case len(wrapped.BoundingBox) > 0:
		return parseBoxesShape(wrapped.BoundingBox)
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "BoundingBox", "ParseBoundingBoxes",
			"body has no bounding box")
	}
}

// toBox requires exactly two corners of exactly two numbers each.
func toBox(corners [][]float64) (BoundingBox, error) {
	if len(corners) != 2 {
		return BoundingBox{}, fmt.Errorf("%w: want 2 corners, got %d", errors.ErrInvalidData, len(corners))
	}
	var box BoundingBox
	for i, c := range corners {
		if len(c) != 2 {
			return BoundingBox{}, fmt.Errorf("%w: corner %d has %d coordinates, want 2",
				errors.ErrInvalidData, i, len(c))
		}
		box[i] = Point{c[0], c[1]}
	}
	return box, nil
}
