package connector

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/openretail/kestrel/internal/domain"
)

type mysqlDialect struct{}

func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) dsn(cfg domain.ConnectorConfig) string {
	tls := "false"
	if cfg.SSL {
		tls = "true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, tls)
}

// MySQL keeps ? placeholders as-is.
func (mysqlDialect) rebind(query string) string { return query }

func (mysqlDialect) limitClause(limit int) string {
	return fmt.Sprintf("LIMIT %d", limit)
}

func (mysqlDialect) pageClause(offset, limit int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (mysqlDialect) pingQuery() string { return "SELECT 1" }
