package debug_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/blukai/boredparty/internal/debug"
	"github.com/matryer/is"
)

func recovered(f func()) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprint(r)
		}
	}()
	f()
	return ""
}

func TestAssert(t *testing.T) {
	is := is.New(t)

	is.Equal(recovered(func() { debug.Assert(true) }), "")
	is.Equal(recovered(func() { debug.Assertf(true, "never %d", 1) }), "")

	msg := recovered(func() { debug.Assert(false, "boom") })
	is.True(strings.Contains(msg, "assert_test.go"))
	is.True(strings.Contains(msg, "boom"))

	msg = recovered(func() { debug.Assertf(false, "got %d", 42) })
	is.True(strings.Contains(msg, "assert_test.go"))
	is.True(strings.Contains(msg, "got 42"))

	is.Equal(recovered(func() { debug.Assert(true, "a", "b") }), "invalid assert args")
}
