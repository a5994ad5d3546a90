package adminrpc

import (
	"context"

	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/timekeeper"
)

// Server implements TimekeeperControlServer against a live Timekeeper.
type Server struct {
	tk *timekeeper.Timekeeper
}

// NewServer builds an admin RPC server backed by tk.
func NewServer(tk *timekeeper.Timekeeper) *Server {
	return &Server{tk: tk}
}

// Sweep triggers an immediate sweep and returns its report.
func (s *Server) Sweep(ctx context.Context, _ *SweepRequest) (*SweepResponse, error) {
	report, err := s.tk.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	return &SweepResponse{
		At:                  report.At,
		AgentsMarkedOffline: report.AgentsMarkedOffline,
		TasksTimedOut:       report.TasksTimedOut,
		TasksReverted:       report.TasksReverted,
		RollupsPerformed:    report.RollupsPerformed,
	}, nil
}

// GetLastReport returns the most recently completed sweep's counters.
func (s *Server) GetLastReport(_ context.Context, _ *LastReportRequest) (*LastReportResponse, error) {
	report := s.tk.LastReport()
	return &LastReportResponse{
		At:                  report.At,
		AgentsMarkedOffline: report.AgentsMarkedOffline,
		TasksTimedOut:       report.TasksTimedOut,
		TasksReverted:       report.TasksReverted,
		RollupsPerformed:    report.RollupsPerformed,
	}, nil
}
