package errors

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("error message without cause", func(t *testing.T) {
		err := NewAppError(ErrorTypeConnection, "connection failed", nil)
		assert.Equal(t, "connection: connection failed", err.Error())
	})

	t.Run("error message with cause", func(t *testing.T) {
		cause := stderrors.New("dial tcp: refused")
		err := NewAppError(ErrorTypeConnection, "connection failed", cause)
		assert.Contains(t, err.Error(), "connection failed")
		assert.Contains(t, err.Error(), "dial tcp: refused")
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("with context", func(t *testing.T) {
		err := NewAppError(ErrorTypeSQL, "query failed", nil).
			WithContext("database", "orders").
			WithContext("attempt", 2)
		assert.Equal(t, "orders", err.Context["database"])
		assert.Equal(t, 2, err.Context["attempt"])
	})

	t.Run("recoverable flag", func(t *testing.T) {
		assert.False(t, NewAppError(ErrorTypeSQL, "x", nil).IsRecoverable())
		assert.True(t, NewRecoverableError(ErrorTypeConnection, "x", nil).IsRecoverable())
	})
}

func TestErrorClassifier_MySQLErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		mysqlCode    uint16
		expectedType ErrorType
		recoverable  bool
	}{
		{"access denied", 1045, ErrorTypePermission, false},
		{"unknown database", 1049, ErrorTypeUnknownDatabase, false},
		{"syntax error", 1064, ErrorTypeSQL, false},
		{"missing privilege", 1227, ErrorTypePermission, false},
		{"cannot connect", 2003, ErrorTypeConnection, true},
		{"server gone away", 2006, ErrorTypeConnection, true},
		{"other error", 1146, ErrorTypeSQL, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mysqlErr := &mysql.MySQLError{Number: tt.mysqlCode, Message: "test error"}
			appErr := classifier.ClassifyError(mysqlErr)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.expectedType, appErr.Type)
			assert.Equal(t, tt.recoverable, appErr.IsRecoverable())
			assert.Equal(t, tt.mysqlCode, appErr.Context["mysql_error_code"])
		})
	}

	t.Run("sql.ErrConnDone", func(t *testing.T) {
		appErr := classifier.ClassifyError(sql.ErrConnDone)
		require.NotNil(t, appErr)
		assert.Equal(t, ErrorTypeConnection, appErr.Type)
		assert.True(t, appErr.IsRecoverable())
	})
}

func TestErrorClassifier_ContextErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	t.Run("deadline exceeded", func(t *testing.T) {
		appErr := classifier.ClassifyError(context.DeadlineExceeded)
		require.NotNil(t, appErr)
		assert.Equal(t, ErrorTypeTimeout, appErr.Type)
		assert.True(t, appErr.IsRecoverable())
	})

	t.Run("canceled", func(t *testing.T) {
		appErr := classifier.ClassifyError(context.Canceled)
		require.NotNil(t, appErr)
		assert.Equal(t, ErrorTypeInterruption, appErr.Type)
	})
}

func TestErrorClassifier_NetworkErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	t.Run("dial failure", func(t *testing.T) {
		opErr := &net.OpError{Op: "dial", Err: stderrors.New("refused")}
		appErr := classifier.ClassifyError(opErr)
		require.NotNil(t, appErr)
		assert.Equal(t, ErrorTypeConnection, appErr.Type)
		assert.True(t, appErr.IsRecoverable())
	})
}

func TestErrorClassifier_FileSystemErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	t.Run("not found", func(t *testing.T) {
		pathErr := &os.PathError{Op: "open", Path: "/etc/backup.yaml", Err: syscall.ENOENT}
		appErr := classifier.ClassifyError(pathErr)
		require.NotNil(t, appErr)
		assert.Equal(t, ErrorTypeConfiguration, appErr.Type)
		assert.Contains(t, appErr.Message, "/etc/backup.yaml")
	})

	t.Run("permission denied", func(t *testing.T) {
		pathErr := &os.PathError{Op: "open", Path: "/root/key", Err: syscall.EACCES}
		appErr := classifier.ClassifyError(pathErr)
		require.NotNil(t, appErr)
		assert.Equal(t, ErrorTypePermission, appErr.Type)
	})
}

func TestErrorClassifier_PassThrough(t *testing.T) {
	classifier := NewErrorClassifier()

	original := NewAppError(ErrorTypeEncryption, "bad key", nil)
	wrapped := fmt.Errorf("outer: %w", original)
	appErr := classifier.ClassifyError(wrapped)
	assert.Equal(t, original, appErr)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, ExitOK},
		{"configuration", NewAppError(ErrorTypeConfiguration, "no config", nil), ExitConfiguration},
		{"directory", NewAppError(ErrorTypeDirectory, "mkdir failed", nil), ExitDirectory},
		{"connectivity", NewAppError(ErrorTypeConnection, "refused", nil), ExitConnectivity},
		{"timeout maps to connectivity", NewAppError(ErrorTypeTimeout, "slow", nil), ExitConnectivity},
		{"unknown database", NewAppError(ErrorTypeUnknownDatabase, "no such db", nil), ExitUnknownDatabase},
		{"encryption", NewAppError(ErrorTypeEncryption, "bad key", nil), ExitEncryption},
		{"restore", NewAppError(ErrorTypeRestore, "import failed", nil), ExitRestore},
		{"plain error", stderrors.New("something"), ExitPartialFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}

func TestRetryHandler(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		rh := NewDefaultRetryHandler()
		calls := 0
		err := rh.Retry(context.Background(), func() error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("does not retry unrecoverable errors", func(t *testing.T) {
		rh := NewDefaultRetryHandler()
		calls := 0
		err := rh.Retry(context.Background(), func() error {
			calls++
			return NewAppError(ErrorTypeConfiguration, "bad config", nil)
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries recoverable errors up to max attempts", func(t *testing.T) {
		rh := NewRetryHandler(RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		})
		calls := 0
		err := rh.Retry(context.Background(), func() error {
			calls++
			return NewRecoverableError(ErrorTypeConnection, "refused", nil)
		})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)

		var appErr *AppError
		require.True(t, stderrors.As(err, &appErr))
		assert.Equal(t, 3, appErr.Context["attempts"])
	})

	t.Run("recovers after transient failure", func(t *testing.T) {
		rh := NewRetryHandler(RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		})
		calls := 0
		err := rh.Retry(context.Background(), func() error {
			calls++
			if calls < 2 {
				return NewRecoverableError(ErrorTypeConnection, "refused", nil)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		rh := NewDefaultRetryHandler()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := rh.Retry(ctx, func() error {
			return NewRecoverableError(ErrorTypeConnection, "refused", nil)
		})
		assert.Error(t, err)
		assert.Equal(t, ErrorTypeInterruption, GetErrorType(err))
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	})

	assert.Equal(t, time.Second, rh.calculateDelay(1))
	assert.Equal(t, 2*time.Second, rh.calculateDelay(2))
	assert.Equal(t, 4*time.Second, rh.calculateDelay(3))
	assert.Equal(t, 5*time.Second, rh.calculateDelay(4), "capped at max delay")
}

func TestWrapError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, WrapError(nil, "message"))
	})

	t.Run("preserves type of AppError", func(t *testing.T) {
		inner := NewAppError(ErrorTypeEncryption, "bad key", nil)
		wrapped := WrapError(inner, "encrypting artifact")
		assert.Equal(t, ErrorTypeEncryption, GetErrorType(wrapped))
	})
}
