// Package health reports over grpc.health.v1 whether the relay can still
// analyse positions, which in practice means whether KataGo is alive.
package health

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "baduk_relay.Analysis"

type Server struct {
	health  *grpchealth.Server
	serving atomic.Bool
	log     *zap.SugaredLogger
}

func NewServer(log *zap.SugaredLogger) *Server {
	s := &Server{health: grpchealth.NewServer(), log: log}
	s.set(true)
	return s
}

func (s *Server) Register(server *grpc.Server) {
	healthpb.RegisterHealthServer(server, s.health)
}

func (s *Server) set(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.serving.Store(serving)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Serving() bool {
	return s.serving.Load()
}

// Watch flips the status to NOT_SERVING once engineDone closes. It returns
// when that happens or ctx is done, whichever is first.
func (s *Server) Watch(ctx context.Context, engineDone <-chan struct{}) {
	select {
	case <-engineDone:
		s.log.Error("engine is gone, reporting NOT_SERVING")
		s.set(false)
	case <-ctx.Done():
	}
}

// Shutdown makes every watcher see NOT_SERVING before the server stops.
func (s *Server) Shutdown() {
	s.serving.Store(false)
	s.health.Shutdown()
}
