package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/tbourn/go-chat-server/internal/config"
)

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown must not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
}

func TestSetupOTel_ResourceErrorPropagates(t *testing.T) {
	orig := newServiceResourceFn
	defer func() { newServiceResourceFn = orig }()

	wantErr := errors.New("resource failed")
	newServiceResourceFn = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
		return nil, wantErr
	}

	cfg := config.OTELConfig{
		Enabled:     true,
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "go-chat-server-test",
		SampleRatio: 1.0,
	}
	if _, err := SetupOTel(context.Background(), cfg, "test"); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want resource failure", err)
	}
}
