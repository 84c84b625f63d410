package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestMapTemplatePartial(t *testing.T) {
	got := MapTemplate(Record{"name": "desktop"})

	assert.Equal(t, Template{ID: "desktop", Name: "desktop", DisplayName: "desktop"}, got)
}

func TestMapTemplateEmpty(t *testing.T) {
	got := MapTemplate(nil)

	assert.Equal(t, UnknownTemplate, got.ID)
	assert.Equal(t, UnknownTemplate, got.Name)
	assert.Equal(t, UnknownTemplate, got.DisplayName)
}

func TestMapTemplateSnakeCase(t *testing.T) {
	got := MapTemplate(Record{
		"template_id":   "tmpl_1",
		"template_name": "ubuntu",
		"display_name":  "Ubuntu Desktop",
		"is_public":     false,
		"is_active":     true,
		"created_at":    "2026-02-16T00:00:00Z",
	})

	assert.Equal(t, "tmpl_1", got.ID)
	assert.Equal(t, "ubuntu", got.Name)
	assert.Equal(t, "Ubuntu Desktop", got.DisplayName)
	assert.Equal(t, ptr(false), got.IsPublic)
	assert.Equal(t, ptr(true), got.IsActive)
	assert.Equal(t, ptr("2026-02-16T00:00:00Z"), got.CreatedAt)
	assert.Nil(t, got.UpdatedAt)
}

func TestMapTemplateSerializesNulls(t *testing.T) {
	data, err := json.Marshal(MapTemplate(Record{"name": "desktop"}))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id":"desktop","name":"desktop","displayName":"desktop",
		"category":null,"status":null,"description":null,
		"isPublic":null,"isActive":null,"createdAt":null,"updatedAt":null
	}`, string(data))
}

func TestMapSandboxNamingConventions(t *testing.T) {
	camel := MapSandbox(Record{"sandboxId": "x", "createdAt": "2026-01-01T00:00:00Z", "timeoutSeconds": 300.0})
	snake := MapSandbox(Record{"sandbox_id": "x", "created_at": "2026-01-01T00:00:00Z", "timeout_seconds": 300.0})

	assert.Equal(t, camel, snake)
	assert.Equal(t, "x", camel.ID)
	assert.Equal(t, UnknownStatus, camel.Status)
}

func TestMapSandboxResources(t *testing.T) {
	got := MapSandbox(Record{
		"sandboxId": "sbx_1",
		"status":    "running",
		"resources": map[string]any{"vcpu": 2.0, "memoryMb": 2048.0, "disk_mb": 10240.0},
	})

	require.NotNil(t, got.Resources)
	assert.Equal(t, ptr(2.0), got.Resources.VCPU)
	assert.Equal(t, ptr(2048.0), got.Resources.MemoryMB)
	assert.Equal(t, ptr(10240.0), got.Resources.DiskMB)

	assert.Nil(t, MapSandbox(Record{"resources": map[string]any{}}).Resources)
	assert.Nil(t, MapSandbox(Record{"resources": "big"}).Resources)
}

func TestMapSandboxWrongTypesBecomeNil(t *testing.T) {
	got := MapSandbox(Record{
		"id":              42,
		"status":          "",
		"region":          7,
		"timeout_seconds": "300",
		"internet_access": "yes",
		"created_at":      math.NaN(),
	})

	assert.Equal(t, Sandbox{ID: UnknownSandbox, Status: UnknownStatus}, got)
}

func TestMapSandboxSkipsNilKeys(t *testing.T) {
	got := MapSandbox(Record{"sandboxId": nil, "sandbox_id": "fallback", "host": "h.example"})

	assert.Equal(t, "fallback", got.ID)
	assert.Equal(t, ptr("h.example"), got.PublicHost)
}

func TestMapNumberRejectsInfinity(t *testing.T) {
	got := MapSandbox(Record{"timeoutSeconds": math.Inf(1)})
	assert.Nil(t, got.TimeoutSeconds)

	got = MapSandbox(Record{"timeoutSeconds": json.Number("60")})
	assert.Equal(t, ptr(60.0), got.TimeoutSeconds)
}

func TestMapProcess(t *testing.T) {
	got := MapProcess(Record{
		"process_id":     "proc_1",
		"status":         "running",
		"pid":            1234.0,
		"start_time":     "2026-01-01T00:00:00Z",
		"execution_time": 1.5,
		"exitCode":       0.0,
	})

	assert.Equal(t, "proc_1", got.ProcessID)
	assert.Equal(t, "running", got.Status)
	assert.Equal(t, ptr(1234.0), got.PID)
	assert.Equal(t, ptr("2026-01-01T00:00:00Z"), got.StartedAt)
	assert.Equal(t, ptr(1.5), got.DurationSeconds)
	assert.Equal(t, ptr(0.0), got.ExitCode)

	empty := MapProcess(Record{})
	assert.Equal(t, UnknownProcess, empty.ProcessID)
	assert.Equal(t, UnknownStatus, empty.Status)
}

func TestMapFile(t *testing.T) {
	got := MapFile(Record{
		"path":     "/workspace/src",
		"name":     "src",
		"is_dir":   true,
		"modified": "2026-01-01T00:00:00Z",
	})

	assert.Equal(t, FileItem{
		Path:         "/workspace/src",
		Name:         "src",
		IsDirectory:  true,
		ModifiedTime: ptr("2026-01-01T00:00:00Z"),
	}, got)
}

func TestMapFileDerivesNameAndTypeFlag(t *testing.T) {
	got := MapFile(Record{"path": "/workspace/readme.md", "type": "dir", "size": 12.0, "mtime": "t"})

	assert.Equal(t, "readme.md", got.Name)
	assert.True(t, got.IsDirectory)
	assert.Equal(t, ptr(12.0), got.Size)
	assert.Equal(t, ptr("t"), got.ModifiedTime)

	assert.False(t, MapFile(Record{"path": "a", "is_dir": 0.0}).IsDirectory)
	assert.True(t, MapFile(Record{"path": "a", "isDirectory": 1.0}).IsDirectory)
	assert.Equal(t, FileItem{}, MapFile(nil))
}

func TestMapMetricsKeepsRaw(t *testing.T) {
	raw := Record{"uptime_seconds": 12.0, "requestsTotal": 3.0, "custom": "x"}
	got := MapMetrics(raw)

	assert.Equal(t, ptr(12.0), got.UptimeSeconds)
	assert.Equal(t, ptr(3.0), got.RequestsTotal)
	assert.Nil(t, got.ErrorCount)
	assert.Equal(t, raw, got.Raw)

	assert.NotNil(t, MapMetrics(nil).Raw)
}

func TestSortFileTreeItems(t *testing.T) {
	items := []FileItem{
		{Name: "b.txt"},
		{Name: "src", IsDirectory: true},
		{Name: "a.txt"},
	}

	got := SortFileTreeItems(items)

	names := []string{got[0].Name, got[1].Name, got[2].Name}
	assert.Equal(t, []string{"src", "a.txt", "b.txt"}, names)
	assert.Equal(t, "b.txt", items[0].Name, "input must not be reordered")
}

func TestStatusVariant(t *testing.T) {
	cases := map[string]string{
		"running": "default",
		"ACTIVE":  "default",
		"paused":  "secondary",
		"stopped": "secondary",
		"killed":  "destructive",
		"error":   "destructive",
		"booting": "outline",
		"":        "outline",
	}
	for status, want := range cases {
		assert.Equal(t, want, StatusVariant(status), status)
	}
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "-", FormatDuration(nil))
	assert.Equal(t, "1.50s", FormatDuration(ptr(1.5)))
	assert.Equal(t, "n/a", FormatFileSize(nil))
	assert.Equal(t, "512 B", FormatFileSize(ptr(512.0)))
	assert.Equal(t, "2.0 KB", FormatFileSize(ptr(2048.0)))
	assert.Equal(t, "3.0 MB", FormatFileSize(ptr(3*1024*1024.0)))
}

type upstreamErr struct{ msg string }

func (e *upstreamErr) Error() string { return e.msg }

func TestNewUIError(t *testing.T) {
	err := fmt.Errorf("list: %w", &upstreamErr{msg: "boom"})

	got := NewUIError("LIST_SANDBOXES_FAILED", err)
	assert.Equal(t, UIError{Code: "LIST_SANDBOXES_FAILED", Message: "list: boom", Cause: "upstreamErr"}, got)

	got = NewUIError("X", nil)
	assert.Equal(t, "Unexpected error while calling HopX API.", got.Message)

	got = NewUIError("X", errors.New("plain"))
	assert.Equal(t, "errorString", got.Cause)
}
