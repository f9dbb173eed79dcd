package transcribe

import (
	"fmt"
	"strings"
)

// FormatWithSpeakers renders segments as speaker-labelled blocks.
func FormatWithSpeakers(segments []Segment) string {
	blocks := make([]string, 0, len(segments))
	for _, seg := range segments {
		blocks = append(blocks, fmt.Sprintf("Speaker %s:\n%s", seg.Speaker, seg.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// FormatPlain renders segments as plain text without attribution.
func FormatPlain(segments []Segment) string {
	blocks := make([]string, 0, len(segments))
	for _, seg := range segments {
		blocks = append(blocks, seg.Text)
	}
	return strings.Join(blocks, "\n\n")
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
