// Package enginerr defines the engine's error taxonomy: the fixed set of
// kinds the scheduler, sandbox, and registry can fail with, each carrying
// enough structure to decide retryability without string matching.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error kinds the engine can produce.
type Kind string

const (
	KindStore           Kind = "store_error"
	KindUnknownPlugin   Kind = "unknown_plugin"
	KindPluginFailure   Kind = "plugin_failure"
	KindTimeout         Kind = "timeout"
	KindCancelled       Kind = "cancelled"
	KindBadCron         Kind = "bad_cron"
	KindActionFailure   Kind = "action_failure"
	KindDuplicatePlugin Kind = "duplicate_plugin"
)

// PluginFailureVariant narrows a KindPluginFailure error to the reason the
// sandbox call failed.
type PluginFailureVariant string

const (
	VariantParseBotConfig     PluginFailureVariant = "parse-bot-config"
	VariantParseActionPayload PluginFailureVariant = "parse-action-payload"
	VariantSendHTTPRequest    PluginFailureVariant = "send-http-request"
	VariantParseResponse      PluginFailureVariant = "parse-response"
	VariantOpenStorage        PluginFailureVariant = "open-storage"
	VariantStorageOperation   PluginFailureVariant = "storage-operation"
	VariantConfigLock         PluginFailureVariant = "config-lock"
	VariantOther              PluginFailureVariant = "other"
)

// EngineError is the concrete type behind every taxonomy kind. Message is
// human-readable; Variant is only meaningful for KindPluginFailure; Retryable
// tells the scheduler whether to schedule a retry or fail the task outright.
type EngineError struct {
	Kind      Kind
	Message   string
	Variant   PluginFailureVariant
	Retryable bool
	Err       error
}

func (e *EngineError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Variant, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, enginerr.Timeout()) style checks against kind
// alone, ignoring message/variant/wrapped error.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func Store(err error) *EngineError {
	return &EngineError{Kind: KindStore, Message: "store operation failed", Retryable: true, Err: err}
}

func UnknownPlugin(kind string) *EngineError {
	return &EngineError{Kind: KindUnknownPlugin, Message: fmt.Sprintf("no plugin registered for kind %q", kind), Retryable: false}
}

func PluginFailure(variant PluginFailureVariant, err error) *EngineError {
	return &EngineError{Kind: KindPluginFailure, Message: "plugin call failed", Variant: variant, Retryable: true, Err: err}
}

func Timeout(after string) *EngineError {
	return &EngineError{Kind: KindTimeout, Message: fmt.Sprintf("sandbox call exceeded %s", after), Retryable: true}
}

func Cancelled() *EngineError {
	return &EngineError{Kind: KindCancelled, Message: "cancelled", Retryable: false}
}

func BadCron(expr string, err error) *EngineError {
	return &EngineError{Kind: KindBadCron, Message: fmt.Sprintf("invalid cron expression %q", expr), Retryable: false, Err: err}
}

func ActionFailure(name string, err error) *EngineError {
	return &EngineError{Kind: KindActionFailure, Message: fmt.Sprintf("action %q failed", name), Retryable: false, Err: err}
}

func DuplicatePlugin(name string) *EngineError {
	return &EngineError{Kind: KindDuplicatePlugin, Message: fmt.Sprintf("plugin %q already registered", name), Retryable: false}
}

// Retryable reports whether err, if it is an *EngineError, should be retried
// by the scheduler rather than marking the task failed outright.
func Retryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}
