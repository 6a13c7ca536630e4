package export

import (
	"io"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/session"

	"github.com/tkrajina/gpxgo/gpx"
)

// encodeGPX renders the GPS fixes of a session as a single-track GPX 1.1
// document. Elevation is reconstructed from the cumulative delta stream,
// baselined at zero.
func encodeGPX(w io.Writer, sctx *session.Context, samples []message.Sample) error {
	startedAt := sctx.StartedAt
	doc := &gpx.GPX{
		Version: "1.1",
		Creator: "stridelink",
		Name:    "stridelink session " + sctx.SessionID,
		Time:    &startedAt,
	}

	var altitudeM float64
	seg := gpx.GPXTrackSegment{}
	for _, s := range samples {
		switch s.Kind {
		case message.SampleElevationDelta:
			altitudeM += s.Elevation.DeltaM
		case message.SampleGPSFix:
			seg.Points = append(seg.Points, gpx.GPXPoint{
				Point: gpx.Point{
					Latitude:  s.GPS.Lat,
					Longitude: s.GPS.Lng,
					Elevation: *gpx.NewNullableFloat64(altitudeM),
				},
				Timestamp: s.CapturedAt,
			})
		}
	}

	doc.Tracks = []gpx.GPXTrack{{
		Name:     sctx.SessionID,
		Segments: []gpx.GPXTrackSegment{seg},
	}}

	out, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
