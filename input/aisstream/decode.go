package aisstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/vessel"
)

// ErrUpstreamRejected is returned when the feed sends an error payload instead of a report.
var ErrUpstreamRejected = errors.New("upstream reported an error")

// time_utc is rendered by the upstream as Go's default time.Time String form.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05 -0700 MST",
	time.RFC3339Nano,
}

type envelope struct {
	MessageType string    `json:"MessageType"`
	MetaData    *metaData `json:"MetaData"`
	Message     struct {
		PositionReport *positionReport `json:"PositionReport"`
	} `json:"Message"`
	Error string `json:"error"`
}

type metaData struct {
	MMSI       json.RawMessage `json:"MMSI"`
	MMSIString json.RawMessage `json:"MMSI_String"`
	ShipName   string          `json:"ShipName"`
	Latitude   *float64        `json:"latitude"`
	Longitude  *float64        `json:"longitude"`
	TimeUTC    string          `json:"time_utc"`
}

type positionReport struct {
	UserID    json.RawMessage `json:"UserID"`
	Latitude  *float64        `json:"Latitude"`
	Longitude *float64        `json:"Longitude"`
	Sog       *float64        `json:"Sog"`
	Cog       *float64        `json:"Cog"`
}

// Decode turns one inbound frame into a position update.
//
// ok is false with a nil error when the frame is well formed but carries no
// position report. Malformed frames return an Invalid error wrapping ErrDecode
// or ErrMissingMMSI; an upstream error payload returns ErrUpstreamRejected.
func Decode(raw []byte) (update vessel.PositionUpdate, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return update, false, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecode, err),
			"aisstream", "Decode", "unmarshal frame")
	}

	if env.Error != "" {
		return update, false, errors.WrapInvalid(fmt.Errorf("%w: %s", ErrUpstreamRejected, env.Error),
			"aisstream", "Decode", "read frame")
	}

	report := env.Message.PositionReport
	if report == nil {
		return update, false, nil
	}
	if env.MetaData == nil {
		return update, false, errors.WrapInvalid(fmt.Errorf("%w: no MetaData", errors.ErrDecode),
			"aisstream", "Decode", "read metadata")
	}
	md := env.MetaData

	mmsi := firstNonEmpty(rawString(md.MMSIString), rawString(md.MMSI), rawString(report.UserID))
	if mmsi == "" {
		return update, false, errors.WrapInvalid(errors.ErrMissingMMSI, "aisstream", "Decode", "read mmsi")
	}

	ts, err := parseTimeUTC(md.TimeUTC)
	if err != nil {
		return update, false, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecode, err),
			"aisstream", "Decode", "parse time_utc")
	}

	update = vessel.PositionUpdate{
		MMSI:      mmsi,
		Timestamp: ts,
		Lat:       report.Latitude,
		Lon:       report.Longitude,
		Speed:     report.Sog,
		Course:    report.Cog,
	}
	if update.Lat == nil {
		update.Lat = md.Latitude
	}
	if update.Lon == nil {
		update.Lon = md.Longitude
	}
	return update, true, nil
}

// rawString accepts both "123" and 123. Only the quoted form keeps leading zeros.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTimeUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time_utc is empty")
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time_utc %q", s)
}
