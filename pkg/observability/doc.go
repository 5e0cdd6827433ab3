// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for CreatorHub services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("driver", "aws_s3").Info("storage driver resolved")
//
// Request-scoped loggers carry the request and user IDs:
//
//	observability.FromContext(ctx).WithError(err).Error("upload failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordStorageOperation("put", "local", time.Since(start), "")
//	metrics.RecordAuthzDecision("audio", "delete", "owner", true)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("storage", false, probeActiveStorage)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
