package pe

import (
	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/link"
	"github.com/arklink/arklink/internal/resolve"
)

type backend struct{}

func (backend) Emit(ctx *job.Context, plan *resolve.Plan) ([]byte, error) { return Emit(ctx, plan) }

func init() { link.Register(job.TargetPE, backend{}) }
