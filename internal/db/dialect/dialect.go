// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// Timestamp returns the column type for a timestamp.
func Timestamp(driver string) string {
	if IsPostgres(driver) {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

// JSON returns the column type for an open-shape metadata bag.
func JSON(driver string) string {
	if IsPostgres(driver) {
		return "JSONB"
	}
	return "TEXT"
}

// Blob returns the column type for opaque compressed bytes.
func Blob(driver string) string {
	if IsPostgres(driver) {
		return "BYTEA"
	}
	return "BLOB"
}

// Now returns the SQL expression for the current time.
func Now(driver string) string {
	if IsPostgres(driver) {
		return "NOW()"
	}
	return "datetime('now')"
}

// NowMinusMinutes returns the SQL expression for now minus the given
// number of minutes, where minutes is a literal or column expression.
func NowMinusMinutes(driver, minutes string) string {
	if IsPostgres(driver) {
		return "NOW() - (" + minutes + " || ' minutes')::interval"
	}
	return "datetime('now', '-' || " + minutes + " || ' minutes')"
}

// NowMinusHours returns the SQL expression for now minus the given
// number of hours.
func NowMinusHours(driver, hours string) string {
	if IsPostgres(driver) {
		return "NOW() - (" + hours + " || ' hours')::interval"
	}
	return "datetime('now', '-' || " + hours + " || ' hours')"
}

// DurationMs returns the SQL expression for the difference between two
// timestamp columns in milliseconds.
func DurationMs(driver, endCol, startCol string) string {
	if IsPostgres(driver) {
		return "EXTRACT(EPOCH FROM (" + endCol + " - " + startCol + ")) * 1000"
	}
	return "(julianday(" + endCol + ") - julianday(" + startCol + ")) * 86400000"
}

// HourBucket returns the SQL expression truncating a timestamp column
// to the hour, for hourly aggregation.
func HourBucket(driver, col string) string {
	if IsPostgres(driver) {
		return "date_trunc('hour', " + col + ")"
	}
	return "strftime('%Y-%m-%dT%H:00:00Z', " + col + ")"
}

// JSONContainsID returns the SQL condition testing whether a JSON
// array column contains the given string parameter. The parameter
// placeholder is supplied by the caller.
func JSONContainsID(driver, col, placeholder string) string {
	if IsPostgres(driver) {
		// jsonb_exists avoids the ? operator, which collides with
		// driver placeholder rebinding.
		return "jsonb_exists(" + col + "::jsonb, " + placeholder + ")"
	}
	return "EXISTS (SELECT 1 FROM json_each(" + col + ") WHERE json_each.value = " + placeholder + ")"
}
