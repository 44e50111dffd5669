package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arklink/arklink/internal/diag"
)

func TestValidateRequiresOutputPath(t *testing.T) {
	cfg := &Config{Inputs: []Input{{Name: "a"}}}
	err := cfg.Validate()
	require.Error(t, err)
	var derr *diag.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, diag.InvalidArgument, derr.Kind)
}

func TestValidateRequiresInputs(t *testing.T) {
	cfg := &Config{OutputPath: "out.exe"}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNonExecutableOutputKind(t *testing.T) {
	cfg := &Config{OutputPath: "out.exe", Inputs: []Input{{Name: "a"}}, OutputKind: SharedLibrary}
	err := cfg.Validate()
	require.Error(t, err)
	var derr *diag.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, diag.Unsupported, derr.Kind)
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := &Config{OutputPath: "out.exe", Inputs: []Input{{Name: "a"}}}
	assert.NoError(t, cfg.Validate())
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "pe", TargetPE.String())
	assert.Equal(t, "elf", TargetELF.String())
}

func TestContextInternReturnsCanonicalStrings(t *testing.T) {
	ctx := NewContext(&Config{OutputPath: "out", Inputs: []Input{{Name: "a"}}})
	a := ctx.Intern([]byte("kernel32.dll"))
	b := ctx.Intern([]byte("kernel32.dll"))
	assert.Equal(t, a, b)
}

func TestContextLoggerDefaultsToNop(t *testing.T) {
	cfg := &Config{OutputPath: "out", Inputs: []Input{{Name: "a"}}}
	ctx := NewContext(cfg)
	assert.NotPanics(t, func() { ctx.Warnf("unused") })
}

func TestContextDestroyResetsArena(t *testing.T) {
	ctx := NewContext(&Config{OutputPath: "out", Inputs: []Input{{Name: "a"}}})
	ctx.Arena().Alloc(16)
	ctx.Destroy()
	// Arena must still be usable (just empty) after Destroy, mirroring the
	// bump-arena Reset contract: destroying the context doesn't poison reuse.
	assert.NotPanics(t, func() { ctx.Arena().Alloc(4) })
}
