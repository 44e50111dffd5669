// Package diag defines the typed error kinds shared across the linker core.
package diag

import "fmt"

// Kind classifies what failed, mirroring ArkLinkResult from the original
// implementation without reusing its integer encoding.
type Kind int

const (
	InvalidArgument Kind = iota
	IO
	BadFormat
	UnresolvedSymbol
	MultipleDefinition
	BackendFailure
	Unsupported
	OutOfMemory
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case IO:
		return "io"
	case BadFormat:
		return "bad format"
	case UnresolvedSymbol:
		return "unresolved symbol"
	case MultipleDefinition:
		return "multiple definition"
	case BackendFailure:
		return "backend failure"
	case Unsupported:
		return "unsupported"
	case OutOfMemory:
		return "out of memory"
	default:
		return "unknown"
	}
}

// Error is the core's single error type. Path identifies the offending input
// (TU origin label, archive member, output path) when known.
type Error struct {
	Kind  Kind
	Path  string
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Inner != nil {
			return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Path, e.Msg, e.Inner)
		}
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Msg)
	}
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, path, msg string, inner error) *Error {
	return &Error{Kind: kind, Path: path, Msg: msg, Inner: inner}
}

// List accumulates multiple root-cause errors of the same kind, used by the
// resolver to report every unresolved symbol at once (§7: "accumulates all
// unresolved-symbol names before returning a single UnresolvedSymbol").
type List struct {
	Kind  Kind
	Items []*Error
}

func (l *List) Add(e *Error) { l.Items = append(l.Items, e) }

func (l *List) Empty() bool { return len(l.Items) == 0 }

func (l *List) Error() string {
	if len(l.Items) == 0 {
		return ""
	}
	s := fmt.Sprintf("%s (%d):", l.Kind, len(l.Items))
	for _, it := range l.Items {
		s += "\n  " + it.Error()
	}
	return s
}

func (l *List) AsError() error {
	if l.Empty() {
		return nil
	}
	return l
}
