package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// jsonCol marshals v for storage in a TEXT column.
func jsonCol(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("storage: marshal json column: %w", err)
	}
	return string(b), nil
}

// scanJSON unmarshals a TEXT column into dst. Empty and NULL columns leave
// dst untouched.
func scanJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("storage: unmarshal json column: %w", err)
	}
	return nil
}

// timePtr converts a nullable TIMESTAMP column to *time.Time in UTC.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// nullTime converts *time.Time for binding to a nullable TIMESTAMP column.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// nullStr converts an optional string; empty stores NULL.
func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt converts *int for a nullable INTEGER column.
func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// intPtr converts a nullable INTEGER column to *int.
func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
