package engine

import (
	"context"

	"github.com/davytheprogrammer/hotspot-manager/pkg/apsvc"
)

// Supervisor adapts an apsvc.Supervisor to APSupervisor.
func Supervisor(s *apsvc.Supervisor) APSupervisor {
	return supervisorAdapter{s}
}

type supervisorAdapter struct {
	s *apsvc.Supervisor
}

func (a supervisorAdapter) BringUp(ctx context.Context, plan apsvc.Plan) (AccessPoint, error) {
	h, err := a.s.BringUp(ctx, plan)
	if err != nil {
		// keep the interface nil, not a typed nil *Handle
		return nil, err
	}
	return h, nil
}

var _ AccessPoint = (*apsvc.Handle)(nil)
