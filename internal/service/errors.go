package service

import (
	"errors"
	"fmt"

	"redpacket/internal/repository"

	"github.com/go-playground/validator/v10"
)

var (
	ErrActivityNotFound = repository.ErrActivityNotFound
	ErrStatusConflict   = repository.ErrStatusConflict
)

// ValidationError 创建参数不合法，在任何写入之前返回
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// conflictError 状态冲突附带原因，errors.Is(err, ErrStatusConflict) 仍然成立
func conflictError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStatusConflict, fmt.Sprintf(format, args...))
}

var validate = validator.New()

// validateStruct 把 validator 的第一个字段错误转换成 ValidationError
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("不满足约束 %s%s", fe.Tag(), paramSuffix(fe.Param())),
		}
	}
	return &ValidationError{Message: err.Error()}
}

func paramSuffix(param string) string {
	if param == "" {
		return ""
	}
	return "=" + param
}
