// Package logger builds slog loggers and provides attribute helpers used across
// the service.
//
// Create a logger per environment:
//
//	log := logger.New(logger.WithDevelopment("certflow"))
//	log := logger.New(logger.WithProduction("certflow"), logger.WithLevel(slog.LevelDebug))
//
// Attribute helpers return an empty slog.Attr for zero inputs, so they can be used
// without nil checks:
//
//	log.ErrorContext(ctx, "order completion failed",
//		logger.Component("pipeline"),
//		logger.CertificateID(certID),
//		logger.Error(err),
//	)
//
// Context extractors add request scoped values to every record written through a
// context-aware method (InfoContext, ErrorContext, ...):
//
//	log := logger.New(
//		logger.WithProduction("certflow"),
//		logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
//			id, ok := ctx.Value(taskIDKey{}).(string)
//			return slog.String("task_id", id), ok
//		}),
//	)
package logger
