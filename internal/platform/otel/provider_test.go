package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/gauntlet/internal/platform/otel"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("GAUNTLET_OTEL_ENDPOINT", "")

	shutdown, err := otel.Setup(context.Background(), "stream")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestSetupDisabledExplicitly(t *testing.T) {
	t.Setenv("GAUNTLET_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("GAUNTLET_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "stream")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}
