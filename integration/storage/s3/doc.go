// Package s3 archives issued certificate bundles in Amazon S3 or an
// S3-compatible store such as MinIO.
//
//	archive, err := s3.New(ctx, cfg.S3, s3.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	svc, err := pipeline.New(cfg.Pipeline, st, acme, verifier, enqueuer, pipeline.WithArchiver(archive))
//
// Each bundle lives under <prefix>/<domain>/<certificate id>/ as cert.pem,
// chain.pem and key.pem. Errors are mapped to the package errors, so
// callers can check ErrObjectNotFound or ErrAccessDenied with errors.Is.
package s3
