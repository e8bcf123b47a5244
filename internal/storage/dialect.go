package storage

import (
	"strconv"
	"strings"
)

// dialect captures the few differences between the SQL backends. Queries are
// written with '?' placeholders and rebound per driver.
type dialect struct {
	name       string
	driver     string
	migrations string
	numbered   bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite", migrations: "migrations/sqlite.sql"}
	postgresDialect = dialect{name: "postgres", driver: "postgres", migrations: "migrations/postgres.sql", numbered: true}
)

// rebind rewrites '?' to $1..$n for postgres. Queries in this package never
// contain literal question marks.
func (d dialect) rebind(q string) string {
	if !d.numbered || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] != '?' {
			b.WriteByte(q[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
