package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrint(t *testing.T) {
	defer func(v, b string) { Version, BuildTime = v, b }(Version, BuildTime)
	Version, BuildTime = "1.2.0", "2024-05-01"
	assert.Equal(t, "ckpt v1.2.0 (built: 2024-05-01, "+runtime.GOOS+"/"+runtime.GOARCH+")", Print("ckpt"))
}
