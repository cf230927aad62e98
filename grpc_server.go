package main

import (
	"context"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip" // Install the gzip compressor

	"keeper/rpc"
)

// startGrpcServer serves the persistence admin API until ctx is cancelled
func startGrpcServer(ctx context.Context, wg *sync.WaitGroup, port int, secret string) {
	log.Infof("Starting GRPC server on port %d", port)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	s := grpc.NewServer()
	rpc.RegisterPersistenceServer(s, rpc.NewServer(persistenceManager, secret, statsCollector))

	wg.Add(2)
	go func() {
		defer wg.Done()
		log.Printf("grpc server listening at %v", lis.Addr())
		if err := s.Serve(lis); err != nil {
			log.Errorf("failed to serve: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.GracefulStop()
	}()
}
