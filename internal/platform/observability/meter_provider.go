package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	mexporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const defaultExportInterval = time.Minute

// NewMeterProvider installs a global meter provider exporting to Cloud Monitoring for projectID.
// Without a project the global no-op provider is left in place and the returned shutdown does nothing.
func NewMeterProvider(ctx context.Context, projectID string, interval time.Duration) (func(context.Context) error, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return func(context.Context) error { return nil }, nil
	}
	if interval <= 0 {
		interval = defaultExportInterval
	}
	exporter, err := mexporter.New(mexporter.WithProjectID(projectID))
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
