package analytics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-push-relay/internal/analytics"
)

func TestNoopExporter(t *testing.T) {
	var exporter analytics.Exporter = analytics.NoopExporter{}
	assert.NoError(t, exporter.Export(context.Background(), analytics.DeliveryEvent{Outcome: analytics.OutcomeFailed}))
}
