package service

import (
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// HealthReporter receives the serving status of each network.
	// *health.Server from google.golang.org/grpc/health satisfies it.
	HealthReporter interface {
		SetServingStatus(service string, servingStatus healthpb.HealthCheckResponse_ServingStatus)
	}
)
