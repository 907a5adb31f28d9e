// Package rpc exposes the planner's gRPC health service so supervisors can
// probe readiness without speaking the simulator protocol.
package rpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/velocity.planner/internal/monitoring"
)

// ServiceName is the health service name reported for the planner.
const ServiceName = "velocity.planner.Planner"

// HealthServer serves grpc.health.v1.Health. The overall ("") status and
// ServiceName start as NOT_SERVING until SetServing(true) is called.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewHealthServer builds the gRPC server and registers the health service.
func NewHealthServer(opts ...grpc.ServerOption) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.SetServing(false)
	return h
}

// SetServing flips the reported status of the planner service.
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Start listens on addr and serves in the background.
func (h *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return h.Serve(lis)
}

// Serve serves on lis in the background.
func (h *HealthServer) Serve(lis net.Listener) error {
	if !h.running.CompareAndSwap(false, true) {
		return fmt.Errorf("health server already running")
	}
	h.listener = lis

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Logf("[rpc] gRPC health server listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil && h.running.Load() {
			monitoring.Logf("[rpc] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop marks every service NOT_SERVING and gracefully stops the server.
func (h *HealthServer) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	h.health.Shutdown()
	h.server.GracefulStop()
	h.wg.Wait()
	monitoring.Logf("[rpc] gRPC health server stopped")
}
