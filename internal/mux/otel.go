package mux

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/geotrack/livetrack/internal/mux"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
