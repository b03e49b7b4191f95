package connector

import (
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/openretail/kestrel/internal/domain"
)

type sqlserverDialect struct{}

func (sqlserverDialect) driverName() string { return "sqlserver" }

func (sqlserverDialect) dsn(cfg domain.ConnectorConfig) string {
	encrypt := "disable"
	if cfg.SSL {
		encrypt = "true"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, encrypt)
}

func (sqlserverDialect) rebind(query string) string {
	return numberPlaceholders(query, "@p")
}

func (sqlserverDialect) limitClause(limit int) string {
	return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", limit)
}

func (sqlserverDialect) pageClause(offset, limit int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (sqlserverDialect) pingQuery() string { return "SELECT 1" }
