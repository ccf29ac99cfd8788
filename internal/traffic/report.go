package traffic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedReport is wrapped by every ParseReport failure.
var ErrMalformedReport = errors.New("malformed traffic report")

// reportJSON is one already-decoded report from the sensor feed. Every field is
// optional at this layer; ParseReport decides what is required.
type reportJSON struct {
	ID        json.RawMessage `json:"id"`
	ICAO      json.RawMessage `json:"icao"`
	Lat       *float64        `json:"lat"`
	Lon       *float64        `json:"lon"`
	Alt       *float64        `json:"alt"`
	Heading   *float64        `json:"heading"`
	Track     *float64        `json:"track"`
	Speed     *float64        `json:"speed"`
	VSpeed    *float64        `json:"vspeed"`
	Tail      *string         `json:"tail"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ParseReport converts one JSON report into a Record. Errors wrap
// ErrMalformedReport; callers on the feed path are expected to drop the line.
func ParseReport(raw []byte) (Record, error) {
	var msg reportJSON
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	id, err := parseID(msg.ID)
	if err == nil && id == "" {
		id, err = parseID(msg.ICAO)
	}
	if err != nil {
		return Record{}, err
	}
	if id == "" {
		return Record{}, fmt.Errorf("%w: missing id", ErrMalformedReport)
	}

	rec := Record{ID: id, Source: SourceStratux}

	switch {
	case msg.Lat != nil && msg.Lon != nil:
		rec.LatDeg, rec.LonDeg, rec.HasPosition = *msg.Lat, *msg.Lon, true
	case msg.Lat != nil || msg.Lon != nil:
		return Record{}, fmt.Errorf("%w: %s: lat and lon must be reported together", ErrMalformedReport, id)
	}
	if msg.Alt != nil {
		rec.AltFeet, rec.HasAlt = *msg.Alt, true
	}
	if msg.Heading != nil {
		rec.HeadingDeg, rec.HasHeading = *msg.Heading, true
	} else if msg.Track != nil {
		rec.HeadingDeg, rec.HasHeading = *msg.Track, true
	}
	if msg.Speed != nil {
		rec.GroundKt, rec.HasGround = *msg.Speed, true
	}
	if msg.VSpeed != nil {
		rec.VvelFpm, rec.HasVvel = *msg.VSpeed, true
	}
	if msg.Tail != nil {
		rec.Tail, rec.HasTail = *msg.Tail, true
	}

	ts, err := parseTimestamp(msg.Timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrMalformedReport, id, err)
	}
	rec.ReportedAt = ts

	norm, ok := rec.normalized()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s: field out of range", ErrMalformedReport, id)
	}
	return norm, nil
}

// parseID accepts a JSON string or integer identifier.
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: id: %v", ErrMalformedReport, err)
		}
		return NormalizeID(s), nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: id must be a string or integer", ErrMalformedReport)
	}
	return strconv.FormatInt(n, 10), nil
}

// parseTimestamp accepts RFC3339 strings or unix seconds (fractional allowed).
// An absent timestamp yields the zero time so the manager stamps arrival.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return time.Time{}, fmt.Errorf("timestamp must be RFC3339 or unix seconds")
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
}
