package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestLogger(level gormlogger.LogLevel) (*LogrusLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)

	return NewLogrusLoggerWith(l, level, 50*time.Millisecond), buf
}

func TestTrace(t *testing.T) {
	ctx := context.Background()
	fc := func() (string, int64) { return "SELECT 1", 1 }

	t.Run("errors are logged", func(t *testing.T) {
		l, buf := newTestLogger(gormlogger.Warn)

		l.Trace(ctx, time.Now(), fc, errors.New("connection refused"))

		assert.Contains(t, buf.String(), "connection refused")
	})

	t.Run("record not found is not an error", func(t *testing.T) {
		l, buf := newTestLogger(gormlogger.Warn)

		l.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)

		assert.Empty(t, buf.String())
	})

	t.Run("slow statements are warned", func(t *testing.T) {
		l, buf := newTestLogger(gormlogger.Warn)

		l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)

		assert.Contains(t, buf.String(), "SLOW SQL")
	})

	t.Run("silent mode logs nothing", func(t *testing.T) {
		l, buf := newTestLogger(gormlogger.Warn)

		l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), fc, errors.New("boom"))

		assert.Empty(t, buf.String())
	})
}
