package archive

import (
	"github.com/arklink/arklink/internal/coffobj"
	"github.com/arklink/arklink/internal/diag"
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/obj"
	"github.com/arklink/arklink/internal/rofmt"
)

// Extract delegates member i's bytes to the matching loader (C1 for RO
// members, the COFF reader for COFF-lib members) and returns a TU.
func (a *Archive) Extract(ctx *job.Context, i int) (*obj.TU, error) {
	if a.Thin {
		return nil, diag.Newf(diag.Unsupported, "%s: thin archive member extraction is out of scope", a.Path)
	}
	m := a.Members[i]
	origin := a.Path + "(" + m.Name + ")"
	switch m.Kind {
	case MemberRO:
		return rofmt.Load(ctx, origin, m.Bytes)
	case MemberCOFF:
		return coffobj.Load(ctx, origin, m.Bytes)
	default:
		return nil, diag.Newf(diag.BadFormat, "%s: unrecognized member format", origin)
	}
}
