package output

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeColor_PassesThroughUnknown(t *testing.T) {
	assert.Equal(t, "weird", MergeColor("weird"))
}

func TestSessionColor_PassesThroughEmpty(t *testing.T) {
	assert.Equal(t, "", SessionColor(""))
}

func TestUI_VerboseSuppressed(t *testing.T) {
	var out strings.Builder
	u := &UI{Out: &out, ErrOut: &out}

	u.VerboseLog("hidden %s", "detail")
	assert.Empty(t, out.String())

	u.Verbose = true
	u.VerboseLog("shown %s", "detail")
	assert.Contains(t, out.String(), "shown detail")
}

func TestUI_DryRunMsg(t *testing.T) {
	var out strings.Builder
	u := &UI{Out: &out, ErrOut: &out}

	u.DryRunMsg("would do it")
	assert.Empty(t, out.String())

	u.DryRun = true
	u.DryRunMsg("would do it")
	assert.Contains(t, out.String(), "[DRY-RUN] would do it")
}

func TestUI_ErrorGoesToErrOut(t *testing.T) {
	var out, errOut strings.Builder
	u := &UI{Out: &out, ErrOut: &errOut}

	u.Error("boom")
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "boom")
}
