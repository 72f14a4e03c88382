// Package storage provides the SQL plumbing shared by the entitlement stores:
// connection management with read replicas, dialect handling for PostgreSQL and
// SQLite, schema migrations, and error classification.
//
// # Errors
//
// Stores return ErrNotFound for missing records and wrap transient driver
// failures (timeouts, dropped connections, overload) with ErrUnavailable via
// Classify. The engine never retries; ErrUnavailable is the caller's signal to
// back off and try again.
//
// # Usage
//
//	cm, err := storage.NewConnectionManager(ctx, storage.Config{
//		Dialect:    storage.DialectPostgres,
//		PrimaryURL: "postgres://localhost/entitle?sslmode=disable",
//	}, logger)
//	if err := storage.Migrate(ctx, cm.Primary(), cm.Dialect()); err != nil {
//		return err
//	}
package storage
