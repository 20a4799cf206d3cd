package errors

import (
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "task not found",
			},
			want: "task not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeRepository,
				Message: "failed to save task",
				Cause:   errors.New("connection refused"),
			},
			want: "failed to save task: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &AppError{
		Code:    ErrCodeInternal,
		Message: "wrapped error",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); !errors.Is(unwrapped, cause) {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantCode ErrorCode
		wantMsg  string
	}{
		{"NotFound", NotFound("task not found"), ErrCodeNotFound, "task not found"},
		{"NotFoundf", NotFoundf("task %s not found", "t1"), ErrCodeNotFound, "task t1 not found"},
		{"Conflict", Conflict("task already exists"), ErrCodeConflict, "task already exists"},
		{"Validation", Validation("invalid input"), ErrCodeValidation, "invalid input"},
		{"Validationf", Validationf("hour %d out of range", 25), ErrCodeValidation, "hour 25 out of range"},
		{"State", State("task is cancelled"), ErrCodeState, "task is cancelled"},
		{"Statef", Statef("cannot activate %s task", "COMPLETED"), ErrCodeState, "cannot activate COMPLETED task"},
		{"Repository", Repository("query failed"), ErrCodeRepository, "query failed"},
		{"Execution", Execution("dispatcher failed"), ErrCodeExecution, "dispatcher failed"},
		{"Executionf", Executionf("attempt %d failed", 2), ErrCodeExecution, "attempt 2 failed"},
		{"Timeout", Timeout("attempt deadline expired"), ErrCodeTimeout, "attempt deadline expired"},
		{"NonRetryable", NonRetryable("user not found"), ErrCodeNonRetryable, "user not found"},
		{"NotReady", NotReady("engine is not running"), ErrCodeNotReady, "engine is not running"},
		{"NotReadyf", NotReadyf("%s is shutting down", "executor"), ErrCodeNotReady, "executor is shutting down"},
		{"Internal", Internal("unexpected"), ErrCodeInternal, "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %v, want %v", tt.err.Message, tt.wantMsg)
			}
		})
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("hour", "must be between 0 and 23")
	if err.Code != ErrCodeValidation {
		t.Errorf("ValidationField().Code = %v, want %v", err.Code, ErrCodeValidation)
	}
	if err.Field != "hour" {
		t.Errorf("ValidationField().Field = %v, want %v", err.Field, "hour")
	}
	if err.Message != "must be between 0 and 23" {
		t.Errorf("ValidationField().Message = %v, want %v", err.Message, "must be between 0 and 23")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeRepository, "wrapped error")

	if err.Code != ErrCodeRepository {
		t.Errorf("Wrap().Code = %v, want %v", err.Code, ErrCodeRepository)
	}
	if err.Message != "wrapped error" {
		t.Errorf("Wrap().Message = %v, want %v", err.Message, "wrapped error")
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Wrap().Cause = %v, want %v", err.Cause, cause)
	}
}

func TestWrap_NilError(t *testing.T) {
	err := Wrap(nil, ErrCodeInternal, "wrapped error")
	if err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("boom")
	err := Wrapf(cause, ErrCodeExecution, "task %s attempt %d", "t1", 3)
	if err.Message != "task t1 attempt 3" {
		t.Errorf("Wrapf().Message = %v, want %v", err.Message, "task t1 attempt 3")
	}
	if !errors.Is(err, cause) {
		t.Errorf("Wrapf() should wrap the cause")
	}
}

func TestCheckers(t *testing.T) {
	tests := []struct {
		name    string
		checker func(error) bool
		match   error
		miss    error
	}{
		{"IsNotFound", IsNotFound, NotFound("x"), Conflict("x")},
		{"IsConflict", IsConflict, Conflict("x"), NotFound("x")},
		{"IsValidation", IsValidation, Validation("x"), State("x")},
		{"IsState", IsState, State("x"), Validation("x")},
		{"IsRepository", IsRepository, Repository("x"), Execution("x")},
		{"IsExecution", IsExecution, Execution("x"), Repository("x")},
		{"IsTimeout", IsTimeout, Timeout("x"), Execution("x")},
		{"IsNonRetryable", IsNonRetryable, NonRetryable("x"), Execution("x")},
		{"IsNotReady", IsNotReady, NotReady("x"), State("x")},
		{"IsInternal", IsInternal, Internal("x"), State("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.checker(tt.match) {
				t.Errorf("%s(match) = false, want true", tt.name)
			}
			if tt.checker(tt.miss) {
				t.Errorf("%s(miss) = true, want false", tt.name)
			}
			if tt.checker(errors.New("standard error")) {
				t.Errorf("%s(standard error) = true, want false", tt.name)
			}
			if tt.checker(nil) {
				t.Errorf("%s(nil) = true, want false", tt.name)
			}
		})
	}
}

func TestCheckers_WrappedErrors(t *testing.T) {
	inner := NotFound("task not found")
	wrapped := Wrapf(inner, ErrCodeRepository, "lookup failed")

	// The outermost code wins for GetCode, but errors.As still finds the
	// outer AppError, so the checker reflects the wrapping code.
	if !IsRepository(wrapped) {
		t.Errorf("IsRepository(wrapped) = false, want true")
	}
	if GetCode(wrapped) != ErrCodeRepository {
		t.Errorf("GetCode(wrapped) = %v, want %v", GetCode(wrapped), ErrCodeRepository)
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(Timeout("x")); got != ErrCodeTimeout {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeTimeout)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %v, want empty", got)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %v, want empty", got)
	}
}

func TestGetField(t *testing.T) {
	if got := GetField(ValidationField("minute", "out of range")); got != "minute" {
		t.Errorf("GetField() = %v, want minute", got)
	}
	if got := GetField(Validation("no field")); got != "" {
		t.Errorf("GetField() = %v, want empty", got)
	}
	if got := GetField(errors.New("plain")); got != "" {
		t.Errorf("GetField(plain) = %v, want empty", got)
	}
}
