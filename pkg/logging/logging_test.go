package logging

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	level.Debug(logger).Log("msg", "hidden")
	level.Info(logger).Log("msg", "shown", "regions", 3)
	assert.Equal(t, "level=info msg=shown regions=3\n", buf.String())
	assert.False(t, IsTerminal(&buf))

	buf.Reset()
	logger = New(&buf, true)
	level.Debug(logger).Log("msg", "cut")
	assert.Equal(t, "level=debug msg=cut\n", buf.String())
}
