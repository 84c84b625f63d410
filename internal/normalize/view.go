package normalize

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// SortFileTreeItems returns a copy with directories first, each group ordered
// by name.
func SortFileTreeItems(items []FileItem) []FileItem {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b FileItem) int {
		if a.IsDirectory != b.IsDirectory {
			if a.IsDirectory {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return sorted
}

// StatusVariant picks the badge style the UI renders for a status string.
func StatusVariant(status string) string {
	switch strings.ToLower(status) {
	case "running", "active":
		return "default"
	case "paused", "stopped":
		return "secondary"
	case "failed", "error", "killed":
		return "destructive"
	default:
		return "outline"
	}
}

func FormatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return fmt.Sprintf("%.2fs", *seconds)
}

func FormatFileSize(size *float64) string {
	switch {
	case size == nil:
		return "n/a"
	case *size < 1024:
		return fmt.Sprintf("%g B", *size)
	case *size < 1024*1024:
		return fmt.Sprintf("%.1f KB", *size/1024)
	default:
		return fmt.Sprintf("%.1f MB", *size/(1024*1024))
	}
}

// UIError is the error payload shown by the panel.
type UIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

const unexpectedMessage = "Unexpected error while calling HopX API."

// NewUIError reports err under code. Cause names the innermost error type.
func NewUIError(code string, err error) UIError {
	if err == nil {
		return UIError{Code: code, Message: unexpectedMessage}
	}
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return UIError{Code: code, Message: err.Error(), Cause: typeName(inner)}
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}
