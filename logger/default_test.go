package logger_test

import (
	"testing"

	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/test"
)

// TestDefaultLogger exercises the process-wide convenience functions layered
// on top of the instance-based Logger.
func TestDefaultLogger(t *testing.T) {
	logger.Clear()

	tw := &test.Writer{}
	logger.Write(tw)
	test.ExpectEquality(t, tw.Compare(""), true)

	logger.Log(logger.Allow, "test", "this is a test")
	logger.Write(tw)
	test.ExpectEquality(t, tw.Compare("test: this is a test\n"), true)

	tw.Clear()
	logger.Log(logger.Allow, "test2", "this is another test")
	logger.Write(tw)
	test.ExpectEquality(t, tw.Compare("test: this is a test\ntest2: this is another test\n"), true)

	tw.Clear()
	logger.Tail(tw, 1)
	test.ExpectEquality(t, tw.Compare("test2: this is another test\n"), true)

	logger.Clear()
}
