package core

import (
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"compliance-gate/internal/types"
)

// DateTimeFormatter renders and parses every persisted timestamp with one
// layout, always in UTC. Zone is only used for the human-readable
// ".converted" twin properties.
type DateTimeFormatter struct {
	Layout string
	Zone   *time.Location
}

func NewDateTimeFormatter(layout string, zone string) (DateTimeFormatter, error) {
	if strings.TrimSpace(layout) == "" {
		layout = types.DefaultDateTimePattern
	}
	formatter := DateTimeFormatter{Layout: layout}
	if strings.TrimSpace(zone) != "" {
		location, err := time.LoadLocation(strings.TrimSpace(zone))
		if err != nil {
			return DateTimeFormatter{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid date_time_zone").
				WithCause(err)
		}
		formatter.Zone = location
	}
	return formatter, nil
}

func (f DateTimeFormatter) layout() string {
	if f.Layout == "" {
		return types.DefaultDateTimePattern
	}
	return f.Layout
}

func (f DateTimeFormatter) Format(value time.Time) string {
	return value.UTC().Format(f.layout())
}

func (f DateTimeFormatter) Parse(value string) (time.Time, error) {
	parsed, err := time.ParseInLocation(f.layout(), strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("malformed timestamp " + value).
			WithCause(err)
	}
	return parsed.UTC(), nil
}

// FormatConverted renders value in the display zone; ok is false when no
// zone is configured.
func (f DateTimeFormatter) FormatConverted(value time.Time) (string, bool) {
	if f.Zone == nil {
		return "", false
	}
	return value.In(f.Zone).Format(f.layout()), true
}
