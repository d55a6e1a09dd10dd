package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorUsage         ErrorCode = "USAGE_ERROR"
	ErrorTransient     ErrorCode = "TRANSIENT_ERROR"
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"
)

// Stage names the pipeline step an error belongs to.
type Stage string

const (
	StageSynthesis    Stage = "synthesis"
	StageAugmentation Stage = "augmentation"
	StageRendering    Stage = "rendering"
	StageHistory      Stage = "history"
)

// User-facing messages. Every error leaving the Service carries one of these.
const (
	MsgRetry     = "网络问题，请重试:)"
	MsgNoImage   = "【提示】未找到合适配图，请重试！"
	MsgNeedTopic = "【提示】请先输入你的主题内容或上传文件"
)

var (
	// ErrEmptyInput marks a collaborator rejecting blank input. It is reported
	// as a usage error rather than a transient one.
	ErrEmptyInput = errors.New("usecase: empty input")
	// ErrConfiguration marks template or layout resolution failures.
	ErrConfiguration = errors.New("usecase: configuration")
	// ErrNotImplemented is returned for artifact kinds without an extraction path.
	ErrNotImplemented = errors.New("usecase: not implemented")
	// ErrNoContent is returned when augment or render run against an empty history.
	ErrNoContent = errors.New("usecase: no synthesized content")
)

type Error struct {
	Code    ErrorCode
	Stage   Stage
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s %s (%s)", e.Stage, e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s %s (%s): %v", e.Stage, e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage returns the message to show the end user for err. Errors that did
// not come through the failure boundary get the retry message.
func UserMessage(err error) string {
	var ue *Error
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	return MsgRetry
}

func newError(code ErrorCode, stage Stage, reason string, err error) *Error {
	return &Error{Code: code, Stage: stage, Reason: reason, Message: stageMessage(code, stage), Err: err}
}

func stageMessage(code ErrorCode, stage Stage) string {
	if code == ErrorUsage {
		return MsgNeedTopic
	}
	switch stage {
	case StageAugmentation:
		return MsgNoImage
	case StageRendering:
		return MsgNeedTopic
	default:
		return MsgRetry
	}
}
