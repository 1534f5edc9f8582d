package service

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// 业务错误分类，调用方通过 errors.Is 判断
var (
	ErrValidation     = errors.New("validation error")
	ErrDuplicate      = errors.New("duplicate error")
	ErrReference      = errors.New("reference error")
	ErrAuthentication = errors.New("not authenticated")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
)

// Error 携带面向用户的描述，同时保留分类
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// isDuplicateKey 判断是否违反唯一约束
// 已开启 TranslateError，字符串匹配兜底未翻译的驱动错误
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
