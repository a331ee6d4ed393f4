package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	t.Parallel()

	info := Get()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, Version, info.String())
}

func TestInfo_Formatting(t *testing.T) {
	t.Parallel()

	info := Info{Version: "1.2.3", Commit: "abc", BuildDate: "today", GoVersion: "go1.25", Platform: "linux/amd64"}
	assert.Equal(t, "1.2.3 (abc) built today go1.25 linux/amd64", info.Full())
	assert.Equal(t, "Warden/1.2.3 (linux/amd64)", info.UserAgent())
}
