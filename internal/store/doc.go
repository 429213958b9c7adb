// Package store persists the app's users and reports in SQLite. The schema
// is kept in embedded migrations applied by Store.Migrate.
package store
