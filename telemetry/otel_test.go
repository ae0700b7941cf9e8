package telemetry_test

import (
	"context"
	"testing"

	"github.com/becomeliminal/nim-branch-sdk/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{Endpoint: "  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetup_RejectsNegativeSampleRatio(t *testing.T) {
	_, err := telemetry.Setup(context.Background(), telemetry.Config{
		Endpoint:    "http://192.0.2.1:4318",
		SampleRatio: -0.5,
	})
	if err == nil {
		t.Fatal("expected error for negative sample ratio")
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export happens.
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		Endpoint:    "http://192.0.2.1:4318",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
