package overcast

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CaptionResult is the decoded ".caption2" text of an episode cell,
// e.g. "Jan 2, 2024 • 34 min" or "Jan 2, 2024 • played".
type CaptionResult struct {
	PubDate         time.Time
	DurationSeconds *int
	IsPlayed        bool
	InProgress      bool
}

var captionDateLayouts = []string{
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"2006-01-02",
}

// ParseCaption decodes the caption text of one episode cell.
func ParseCaption(text string) (CaptionResult, error) {
	text = strings.TrimSpace(text)
	parts := strings.SplitN(text, " • ", 3)
	if len(parts) == 0 || parts[0] == "" {
		return CaptionResult{}, &ParseError{What: fmt.Sprintf("caption %q", text)}
	}

	pubDate, err := parseCaptionDate(strings.TrimSpace(parts[0]))
	if err != nil {
		return CaptionResult{}, &ParseError{What: fmt.Sprintf("caption date %q", parts[0]), Err: err}
	}

	result := CaptionResult{PubDate: pubDate}
	if len(parts) < 2 {
		return result, nil
	}

	detail := strings.TrimSpace(parts[1])
	switch {
	case detail == "played":
		result.IsPlayed = true
	case strings.HasSuffix(detail, "left"):
		result.IsPlayed = true
	case strings.HasPrefix(detail, "at "):
		result.IsPlayed = true
		result.InProgress = true
	default:
		seconds, err := parseDuration(detail)
		if err != nil {
			return CaptionResult{}, &ParseError{What: fmt.Sprintf("caption duration %q", detail), Err: err}
		}
		result.DurationSeconds = &seconds
	}
	return result, nil
}

func parseCaptionDate(s string) (time.Time, error) {
	for _, layout := range captionDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// Dates within the current year omit the year.
	if t, err := time.Parse("Jan 2", s); err == nil {
		now := time.Now()
		t = t.AddDate(now.Year(), 0, 0)
		if t.After(now) {
			t = t.AddDate(-1, 0, 0)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, " min") {
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}
	minutes, err := strconv.Atoi(strings.TrimSuffix(s, " min"))
	if err != nil {
		return 0, err
	}
	return minutes * 60, nil
}
