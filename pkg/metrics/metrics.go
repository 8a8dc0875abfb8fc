/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"github.com/couchbaselabs/gomsgbus/contrib/buildversion"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type BusMetrics struct {
	Sends            metric.Int64Counter
	SendFailures     metric.Int64Counter
	SendDuration     metric.Float64Histogram
	BalancerRebuilds metric.Int64Counter
	Deliveries       metric.Int64Counter
	DeliveryFailures metric.Int64Counter
	ActiveDeliveries metric.Int64UpDownCounter
}

var (
	busMetrics     *BusMetrics
	busMetricsLock sync.Mutex
)

func GetBusMetrics() *BusMetrics {
	busMetricsLock.Lock()

	if busMetrics != nil {
		busMetricsLock.Unlock()
		return busMetrics
	}

	busMetrics = newBusMetrics()

	busMetricsLock.Unlock()
	return busMetrics
}

var buildVersion string = buildversion.GetVersion("github.com/couchbaselabs/gomsgbus")

func newBusMetrics() *BusMetrics {
	meter := otel.Meter(
		"com.couchbase.gomsgbus",
		metric.WithInstrumentationVersion(buildVersion))

	sends, _ := meter.Int64Counter("msgbus_sends_total")
	sendFailures, _ := meter.Int64Counter("msgbus_send_failures_total")
	sendDuration, _ := meter.Float64Histogram("msgbus_send_duration_milliseconds")
	balancerRebuilds, _ := meter.Int64Counter("msgbus_balancer_rebuilds_total")
	deliveries, _ := meter.Int64Counter("msgbus_deliveries_total")
	deliveryFailures, _ := meter.Int64Counter("msgbus_delivery_failures_total")
	activeDeliveries, _ := meter.Int64UpDownCounter("msgbus_active_deliveries")

	return &BusMetrics{
		Sends:            sends,
		SendFailures:     sendFailures,
		SendDuration:     sendDuration,
		BalancerRebuilds: balancerRebuilds,
		Deliveries:       deliveries,
		DeliveryFailures: deliveryFailures,
		ActiveDeliveries: activeDeliveries,
	}
}
