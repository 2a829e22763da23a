// Package server exposes the engine's read surface: a gRPC endpoint carrying
// the standard health service, and an HTTP/JSON API for dashboards and curl.
package server

import (
	"context"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server. The only services are health and
// reflection; all queries go over the HTTP API.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	grpcAddr     string
}

// NewGRPCServer creates the gRPC server with health and reflection
// registered. Starts in NOT_SERVING until an owner connects.
func NewGRPCServer(grpcAddr string) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
	}
}

// SetServing flips the bundled health service between SERVING and
// NOT_SERVING, tracking owner connection state.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// Start starts the gRPC server (blocking).
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}
