package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{
			name:      "unauthorized",
			err:       errors.New("401 Unauthorized"),
			wantType:  ErrorTypeAuth,
			retryable: false,
		},
		{
			name:      "model missing",
			err:       errors.New("model 'qwen3' not found"),
			wantType:  ErrorTypeModel,
			retryable: false,
		},
		{
			name:      "connection refused",
			err:       errors.New("dial tcp: connection refused"),
			wantType:  ErrorTypeEndpoint,
			retryable: true,
		},
		{
			name:      "timeout",
			err:       errors.New("context deadline exceeded"),
			wantType:  ErrorTypeEndpoint,
			retryable: true,
		},
		{
			name:      "rate limited",
			err:       errors.New("429 Too Many Requests"),
			wantType:  ErrorTypeUnknown,
			retryable: true,
		},
		{
			name:      "server error",
			err:       errors.New("503 Service Unavailable"),
			wantType:  ErrorTypeEndpoint,
			retryable: true,
		},
		{
			name:      "unknown",
			err:       errors.New("something odd"),
			wantType:  ErrorTypeUnknown,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("type = %s, want %s", got.Type, tt.wantType)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.retryable)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := ClassifyError(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestClassifyError_PassesThroughStructured(t *testing.T) {
	orig := NewError(ErrorTypeAuth, "authentication failed", false, errors.New("401"))
	wrapped := fmt.Errorf("request failed: %w", orig)

	got := ClassifyError(wrapped)
	if got != orig {
		t.Error("expected existing *Error to pass through unchanged")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := NewError(ErrorTypeEndpoint, "server error", true, nil)
	if !IsRetryable(retryable) {
		t.Error("expected retryable")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Error("plain errors are not retryable")
	}
}
