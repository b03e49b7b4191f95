package connector

import (
	"fmt"

	_ "github.com/sijms/go-ora/v2"

	"github.com/openretail/kestrel/internal/domain"
)

type oracleDialect struct{}

func (oracleDialect) driverName() string { return "oracle" }

func (oracleDialect) dsn(cfg domain.ConnectorConfig) string {
	ssl := ""
	if cfg.SSL {
		ssl = "?ssl=true"
	}
	return fmt.Sprintf("oracle://%s:%s@%s:%d/%s%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, ssl)
}

func (oracleDialect) rebind(query string) string {
	return numberPlaceholders(query, ":")
}

func (oracleDialect) limitClause(limit int) string {
	return fmt.Sprintf("FETCH FIRST %d ROWS ONLY", limit)
}

func (oracleDialect) pageClause(offset, limit int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (oracleDialect) pingQuery() string { return "SELECT 1 FROM DUAL" }
