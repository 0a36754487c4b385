package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// SQLHandler implements the `sql` node type.
//
// config fields:
//
//	engine:  "postgres" | "mysql" (required)
//	query:   SQL text (required)
//	dsn:     full DSN; takes priority over connection_string
//	connection_string: alternative DSN key (matches the connection_string
//	                   secret type, so a secret_ref can supply it)
//	host/port/database/user/password: used when neither DSN key is set
//	params:  positional query parameters
//	timeout: int seconds, default 30
//
// Output is {rows: [...], row_count: n}; rows is empty for DML.
type SQLHandler struct{}

func (h *SQLHandler) Name() string { return "sql" }

func (h *SQLHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	engine, ok := config["engine"].(string)
	if !ok || engine == "" {
		return nil, fmt.Errorf("sql activity: missing required config field 'engine'")
	}
	if engine != "postgres" && engine != "mysql" {
		return nil, fmt.Errorf("sql activity: unsupported engine %q", engine)
	}
	query, ok := config["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("sql activity: missing required config field 'query'")
	}

	timeout := 30 * time.Second
	switch v := config["timeout"].(type) {
	case int:
		timeout = time.Duration(v) * time.Second
	case float64:
		timeout = time.Duration(v) * time.Second
	}

	var params []interface{}
	if p, ok := config["params"].([]interface{}); ok {
		params = p
	}

	db, err := sql.Open(engine, connectionDSN(engine, config))
	if err != nil {
		return nil, fmt.Errorf("sql activity: open %s: %w", engine, err)
	}
	defer db.Close()

	queryCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("sql activity: query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sql activity: columns: %w", err)
	}

	result := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("sql activity: scan: %w", err)
		}
		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// Text columns arrive as []byte from both drivers.
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql activity: rows: %w", err)
	}

	return map[string]interface{}{
		"rows":      result,
		"row_count": len(result),
	}, nil
}

// connectionDSN picks the DSN: explicit dsn wins, then connection_string,
// then individual host/port/database/user/password fields.
func connectionDSN(engine string, config map[string]interface{}) string {
	if dsn, ok := config["dsn"].(string); ok && dsn != "" {
		return dsn
	}
	if dsn, ok := config["connection_string"].(string); ok && dsn != "" {
		return dsn
	}

	host, _ := config["host"].(string)
	if host == "" {
		host = "localhost"
	}
	port, _ := config["port"].(string)
	database, _ := config["database"].(string)
	user, _ := config["user"].(string)
	password, _ := config["password"].(string)

	switch engine {
	case "postgres":
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
			host, port, database, user, password)
	case "mysql":
		if port == "" {
			port = "3306"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", user, password, host, port, database)
	}
	return ""
}
