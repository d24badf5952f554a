package processor

import (
	"fmt"
	"time"
)

// Call timestamps are shifted to UTC+7 and then forward one more hour to
// compensate for a systematic offset in the upstream telephony data. The
// compound adjustment is fixed policy.
const (
	targetUTCOffsetHours = 7
	upstreamCorrection   = time.Hour
)

// callTimeLayout renders the adjusted instant in ISO-8601 form with
// milliseconds, matching what the CRM date fields expect.
const callTimeLayout = "2006-01-02T15:04:05.000Z"

// Layouts CALL_START_DATE has been observed in.
var callTimeParseLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeCallStart converts an upstream call-start timestamp to the target
// offset, applies the one-hour correction, and renders the result.
func NormalizeCallStart(raw string) (string, error) {
	parsed, err := parseCallTime(raw)
	if err != nil {
		return "", err
	}

	adjusted := parsed.UTC().Add(targetUTCOffsetHours*time.Hour + upstreamCorrection)
	return adjusted.Format(callTimeLayout), nil
}

func parseCallTime(raw string) (time.Time, error) {
	for _, layout := range callTimeParseLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable CALL_START_DATE value: %q", raw)
}
