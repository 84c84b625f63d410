// Package normalize maps loosely shaped HopX payloads into the stable view
// records served to the control panel UI.
//
// Every Map function is total: missing keys, nil values and values of the
// wrong type all become nil fields (or a sentinel for required fields). None
// of them return an error.
package normalize

import (
	"encoding/json"
	"math"
	"strings"
)

// Record is an upstream payload of unknown shape.
type Record = map[string]any

const (
	UnknownSandbox  = "unknown-sandbox"
	UnknownStatus   = "unknown"
	UnknownTemplate = "unknown-template"
	UnknownProcess  = "unknown-process"
)

// Template is the UI shape of a template listing entry.
type Template struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DisplayName string  `json:"displayName"`
	Category    *string `json:"category"`
	Status      *string `json:"status"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"isPublic"`
	IsActive    *bool   `json:"isActive"`
	CreatedAt   *string `json:"createdAt"`
	UpdatedAt   *string `json:"updatedAt"`
}

type Resources struct {
	VCPU     *float64 `json:"vcpu"`
	MemoryMB *float64 `json:"memoryMb"`
	DiskMB   *float64 `json:"diskMb"`
}

// Sandbox is the UI shape of one sandbox.
type Sandbox struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	TemplateName   *string    `json:"templateName"`
	TemplateID     *string    `json:"templateId"`
	Region         *string    `json:"region"`
	CreatedAt      *string    `json:"createdAt"`
	ExpiresAt      *string    `json:"expiresAt"`
	TimeoutSeconds *float64   `json:"timeoutSeconds"`
	InternetAccess *bool      `json:"internetAccess"`
	PublicHost     *string    `json:"publicHost"`
	Resources      *Resources `json:"resources"`
}

// Process is the UI shape of a background process.
type Process struct {
	ProcessID       string   `json:"processId"`
	ExecutionID     *string  `json:"executionId"`
	Name            *string  `json:"name"`
	Status          string   `json:"status"`
	Language        *string  `json:"language"`
	PID             *float64 `json:"pid"`
	StartedAt       *string  `json:"startedAt"`
	EndTime         *string  `json:"endTime"`
	DurationSeconds *float64 `json:"durationSeconds"`
	ExitCode        *float64 `json:"exitCode"`
}

// FileItem is one entry of a directory listing.
type FileItem struct {
	Path         string   `json:"path"`
	Name         string   `json:"name"`
	IsDirectory  bool     `json:"isDirectory"`
	Size         *float64 `json:"size"`
	ModifiedTime *string  `json:"modifiedTime"`
	Permissions  *string  `json:"permissions"`
}

// Metrics keeps the known agent counters and the full payload for display.
type Metrics struct {
	UptimeSeconds    *float64 `json:"uptimeSeconds"`
	TotalExecutions  *float64 `json:"totalExecutions"`
	ActiveExecutions *float64 `json:"activeExecutions"`
	RequestsTotal    *float64 `json:"requestsTotal"`
	ErrorCount       *float64 `json:"errorCount"`
	AvgDurationMS    *float64 `json:"avgDurationMs"`
	P95DurationMS    *float64 `json:"p95DurationMs"`
	Raw              Record   `json:"raw"`
}

func MapTemplate(r Record) Template {
	name := orDefault(str(first(r, "name", "templateName", "template_name")), UnknownTemplate)
	return Template{
		ID:          orDefault(str(first(r, "id", "templateId", "template_id")), name),
		Name:        name,
		DisplayName: orDefault(str(first(r, "displayName", "display_name")), name),
		Category:    str(first(r, "category")),
		Status:      str(first(r, "status")),
		Description: str(first(r, "description")),
		IsPublic:    boolean(first(r, "isPublic", "is_public")),
		IsActive:    boolean(first(r, "isActive", "is_active")),
		CreatedAt:   str(first(r, "createdAt", "created_at")),
		UpdatedAt:   str(first(r, "updatedAt", "updated_at")),
	}
}

func MapSandbox(r Record) Sandbox {
	var resources *Resources
	if res := record(first(r, "resources")); len(res) > 0 {
		resources = &Resources{
			VCPU:     number(first(res, "vcpu", "vCPU", "vcpu_count")),
			MemoryMB: number(first(res, "memoryMb", "memory_mb")),
			DiskMB:   number(first(res, "diskMb", "disk_mb")),
		}
	}

	return Sandbox{
		ID:             orDefault(str(first(r, "sandboxId", "sandbox_id", "id")), UnknownSandbox),
		Status:         orDefault(str(first(r, "status")), UnknownStatus),
		TemplateName:   str(first(r, "templateName", "template_name", "template")),
		TemplateID:     str(first(r, "templateId", "template_id")),
		Region:         str(first(r, "region")),
		CreatedAt:      str(first(r, "createdAt", "created_at")),
		ExpiresAt:      str(first(r, "expiresAt", "expires_at")),
		TimeoutSeconds: number(first(r, "timeoutSeconds", "timeout_seconds")),
		InternetAccess: boolean(first(r, "internetAccess", "internet_access")),
		PublicHost:     str(first(r, "publicHost", "public_host", "host")),
		Resources:      resources,
	}
}

func MapProcess(r Record) Process {
	return Process{
		ProcessID:       orDefault(str(first(r, "process_id", "processId")), UnknownProcess),
		ExecutionID:     str(first(r, "execution_id", "executionId")),
		Name:            str(first(r, "name")),
		Status:          orDefault(str(first(r, "status")), UnknownStatus),
		Language:        str(first(r, "language")),
		PID:             number(first(r, "pid")),
		StartedAt:       str(first(r, "started_at", "start_time", "startedAt")),
		EndTime:         str(first(r, "end_time", "endTime")),
		DurationSeconds: number(first(r, "duration", "duration_seconds", "execution_time")),
		ExitCode:        number(first(r, "exit_code", "exitCode")),
	}
}

// MapFile derives the name from the last path segment when the payload has
// none, and treats type "dir" the same as a truthy is_dir flag.
func MapFile(r Record) FileItem {
	path := orDefault(str(first(r, "path")), "")
	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}

	return FileItem{
		Path:         path,
		Name:         orDefault(str(first(r, "name")), name),
		IsDirectory:  truthy(first(r, "is_dir", "isDirectory")) || first(r, "type") == "dir",
		Size:         number(first(r, "size")),
		ModifiedTime: str(first(r, "modified", "modified_time", "modifiedTime", "mtime")),
		Permissions:  str(first(r, "permissions")),
	}
}

func MapMetrics(r Record) Metrics {
	if r == nil {
		r = Record{}
	}
	return Metrics{
		UptimeSeconds:    number(first(r, "uptime_seconds", "uptimeSeconds")),
		TotalExecutions:  number(first(r, "total_executions", "totalExecutions")),
		ActiveExecutions: number(first(r, "active_executions", "activeExecutions")),
		RequestsTotal:    number(first(r, "requests_total", "requestsTotal")),
		ErrorCount:       number(first(r, "error_count", "errorCount")),
		AvgDurationMS:    number(first(r, "avg_duration_ms", "avgDurationMs")),
		P95DurationMS:    number(first(r, "p95_duration_ms", "p95DurationMs")),
		Raw:              r,
	}
}

// String returns the first non-empty string stored under keys, or "".
func String(r Record, keys ...string) string {
	return orDefault(str(first(r, keys...)), "")
}

func first(r Record, keys ...string) any {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func record(v any) Record {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func str(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func boolean(v any) *bool {
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if n := number(v); n != nil {
			return *n != 0
		}
		return true
	}
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
