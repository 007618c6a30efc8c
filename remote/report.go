package remote

import (
	"log"

	"github.com/spieswl/webrtc-perception/transfer"
)

// Reporter matches sequence.Reporter
type Reporter interface {
	ReportTag(transfer.Tag)
	ReportDimensions(width, height int)
}

// LogReporter writes tags to a logger
type LogReporter struct {
	Logger *log.Logger
}

// ReportTag logs the tag
func (l LogReporter) ReportTag(tag transfer.Tag) {
	l.Logger.Printf("sequence_data type=%s code=%d freq=%g counter=%d", tag.Kind, tag.Code, tag.Frequency, tag.FrameIndex)
}

// ReportDimensions logs the frame size
func (l LogReporter) ReportDimensions(width, height int) {
	l.Logger.Printf("photo_dimensions %dx%d", width, height)
}

// Reporters fans out to every member
type Reporters []Reporter

// ReportTag forwards to every member
func (rs Reporters) ReportTag(tag transfer.Tag) {
	for _, r := range rs {
		r.ReportTag(tag)
	}
}

// ReportDimensions forwards to every member
func (rs Reporters) ReportDimensions(width, height int) {
	for _, r := range rs {
		r.ReportDimensions(width, height)
	}
}
