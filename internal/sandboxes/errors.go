package sandboxes

import (
	"errors"
	"fmt"

	"github.com/hyper-ai-inc/hopx-panel/internal/config"
	"github.com/hyper-ai-inc/hopx-panel/internal/hopx"
)

// Kind classifies a failed operation.
type Kind int

const (
	KindUpstream Kind = iota
	KindConfig
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "upstream"
	}
}

// Operation codes reported with every failure.
const (
	CodeListTemplates   = "LIST_TEMPLATES_FAILED"
	CodeListSandboxes   = "LIST_SANDBOXES_FAILED"
	CodeCreateSandbox   = "CREATE_SANDBOX_FAILED"
	CodeStartSandbox    = "START_SANDBOX_FAILED"
	CodeStopSandbox     = "STOP_SANDBOX_FAILED"
	CodeDeleteSandbox   = "DELETE_SANDBOX_FAILED"
	CodeGetSandboxInfo  = "GET_SANDBOX_INFO_FAILED"
	CodeListFiles       = "LIST_FILES_FAILED"
	CodeReadFile        = "READ_FILE_FAILED"
	CodeRunCommand      = "RUN_COMMAND_FAILED"
	CodeStartCommand    = "START_COMMAND_FAILED"
	CodeListProcesses   = "LIST_PROCESSES_FAILED"
	CodeGetEnv          = "GET_ENV_FAILED"
	CodeSetEnv          = "SET_ENV_FAILED"
	CodeDeleteEnv       = "DELETE_ENV_FAILED"
	CodeGetMetrics      = "GET_METRICS_FAILED"
	CodeVNCStatus       = "VNC_STATUS_FAILED"
	CodeVNCStart        = "VNC_START_FAILED"
	CodeVNCStop         = "VNC_STOP_FAILED"
	CodeBuildTemplate   = "BUILD_TEMPLATE_FAILED"
	CodeDeleteTemplate  = "DELETE_TEMPLATE_FAILED"
	CodeTerminalConnect = "TERMINAL_CONNECT_FAILED"
)

// Error is the only error type Service methods return.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("Sandbox %s was not found.", id)}
}

// wrap tags err with the operation code, keeping the original message.
func wrap(code string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: code, Kind: e.Kind, Message: e.Message, Err: e.Err}
	}

	kind := KindUpstream
	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		kind = KindConfig
	case errors.Is(err, hopx.ErrNotFound), errors.Is(err, ErrHandleNotFound):
		kind = KindNotFound
	}
	return &Error{Code: code, Kind: kind, Message: err.Error(), Err: err}
}
