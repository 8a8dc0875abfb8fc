/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package webapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	meter = otel.Meter("github.com/couchbaselabs/gomsgbus/pkg/webapi")
)

type statusCodeResponseWriter struct {
	BaseResponseWriter http.ResponseWriter
	StatusCode         int
}

var _ http.ResponseWriter = &statusCodeResponseWriter{}

func (w *statusCodeResponseWriter) Header() http.Header {
	return w.BaseResponseWriter.Header()
}

func (w *statusCodeResponseWriter) Write(b []byte) (int, error) {
	return w.BaseResponseWriter.Write(b)
}

func (w *statusCodeResponseWriter) WriteHeader(statusCode int) {
	w.StatusCode = statusCode
	w.BaseResponseWriter.WriteHeader(statusCode)
}

func newStatsMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	numRequests, err := meter.Int64Counter("web_server_requests")
	if err != nil {
		logger.Warn("failed to initialize request counter", zap.Error(err))
	}

	durationMillis, err := meter.Int64Histogram("web_server_duration_milliseconds")
	if err != nil {
		logger.Warn("failed to initialize duration histogram", zap.Error(err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerName := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					handlerName = tpl
				}
			}

			statusW := &statusCodeResponseWriter{
				BaseResponseWriter: w,
				StatusCode:         0,
			}

			stime := time.Now()

			next.ServeHTTP(statusW, r)

			statusCode := statusW.StatusCode
			if statusCode == 0 {
				statusCode = http.StatusOK
			}

			etime := time.Now()
			dtime := etime.Sub(stime)
			dtimeMillis := dtime.Milliseconds()

			ctx := r.Context()
			durationMillis.Record(ctx, dtimeMillis, metric.WithAttributes(
				attribute.String("handler", handlerName),
				attribute.Int("http_status_code", statusCode),
			))

			numRequests.Add(ctx, 1, metric.WithAttributes(
				attribute.String("handler", handlerName),
				attribute.Int("http_status_code", statusCode),
			))
		})
	}
}
