package diag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormattingWithAndWithoutPath(t *testing.T) {
	withPath := Wrap(IO, "a.o", "reading input", errors.New("disk full"))
	assert.Contains(t, withPath.Error(), "a.o")
	assert.Contains(t, withPath.Error(), "disk full")

	bare := New(InvalidArgument, "missing output path")
	assert.NotContains(t, bare.Error(), "a.o")
	assert.Contains(t, bare.Error(), "missing output path")
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	wrapped := Wrap(IO, "x", "msg", inner)
	assert.Same(t, inner, errors.Unwrap(wrapped))
}

func TestListAccumulatesAndReports(t *testing.T) {
	var l List
	l.Kind = UnresolvedSymbol
	assert.True(t, l.Empty())

	l.Add(New(UnresolvedSymbol, "foo"))
	l.Add(New(UnresolvedSymbol, "bar"))
	require.False(t, l.Empty())
	assert.Contains(t, l.Error(), "foo")
	assert.Contains(t, l.Error(), "bar")
	assert.Contains(t, l.Error(), "(2)")
}

func TestListAsErrorNilWhenEmpty(t *testing.T) {
	var l List
	assert.Nil(t, l.AsError())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "unresolved symbol", UnresolvedSymbol.String())
	assert.Equal(t, "multiple definition", MultipleDefinition.String())
}
