package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrQueue             = errors.New("queue error")
	ErrStore             = errors.New("store error")
	ErrPayload           = errors.New("invalid payload")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrConversion        = errors.New("conversion failed")
	ErrWorkspace         = errors.New("workspace error")
	ErrTimeout           = errors.New("timeout")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
)

// markers lists the sentinels in classification order; the first match wins.
var markers = []struct {
	err  error
	kind string
}{
	{ErrTimeout, "timeout"},
	{ErrPayload, "payload"},
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrConversion, "conversion"},
	{ErrWorkspace, "workspace"},
	{ErrQueue, "queue"},
	{ErrStore, "store"},
	{ErrConfiguration, "configuration"},
	{ErrNotFound, "not_found"},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrStore
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails summarizes an error for structured logging.
type ErrorDetails struct {
	Kind    string
	Message string
	Hint    string
}

// Details classifies err against the package markers.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: "unknown", Message: err.Error(), Hint: "check logs for details"}
	for _, m := range markers {
		if errors.Is(err, m.err) {
			details.Kind = m.kind
			break
		}
	}
	switch details.Kind {
	case "timeout":
		details.Hint = "raise workflow.tool_timeout or inspect the source data"
	case "payload":
		details.Hint = "inspect the raw queue message; it will be redelivered until removed"
	case "unsupported_format":
		details.Hint = "submit a source with an extension the stage accepts"
	case "conversion":
		details.Hint = "see converter stderr in the error message"
	case "workspace":
		details.Hint = "check paths.work_dir permissions and free space"
	case "queue", "store":
		details.Hint = "check backend connectivity"
	case "configuration":
		details.Hint = "fix the configuration file and restart"
	}
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
