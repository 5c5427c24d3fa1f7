package utils

import "database/sql"

// NullString maps "" to NULL so optional text columns are not stored as
// empty strings.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullInt maps 0 to NULL. Foreign keys here never use id 0, so zero always
// means "unset".
func NullInt(i int) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

// BoolToInt converts to the tinyint(1) form the MySQL schema uses for flags.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
