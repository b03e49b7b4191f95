package connector

import (
	"fmt"

	_ "github.com/lib/pq"

	"github.com/openretail/kestrel/internal/domain"
)

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "postgres" }

func (postgresDialect) dsn(cfg domain.ConnectorConfig) string {
	sslmode := "disable"
	if cfg.SSL {
		sslmode = "require"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslmode)
}

func (postgresDialect) rebind(query string) string {
	return numberPlaceholders(query, "$")
}

func (postgresDialect) limitClause(limit int) string {
	return fmt.Sprintf("LIMIT %d", limit)
}

func (postgresDialect) pageClause(offset, limit int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (postgresDialect) pingQuery() string { return "SELECT 1" }

// numberPlaceholders converts ? placeholders to numbered ones with the
// given prefix ($1, :1, @p1).
func numberPlaceholders(query, prefix string) string {
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, prefix...)
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
