package source

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/pkg/errors"
)

// Params holds source connection parameters. Credentials supplied for
// ad-hoc connection tests pass through here and are never persisted.
type Params struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// DSN renders the go-sql-driver connection string.
func (p Params) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		p.Username, p.Password, p.Host, p.Port, p.Database)
}

// Factory opens connectors, either for the configured default source
// or for caller-supplied parameters.
type Factory struct {
	base         Params
	queryTimeout time.Duration
}

func NewFactory(base Params, queryTimeout time.Duration) *Factory {
	return &Factory{base: base, queryTimeout: queryTimeout}
}

// Open builds a connector for explicit parameters.
func (f *Factory) Open(params Params) (Connector, error) {
	db, err := sql.Open("mysql", params.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open source connection")
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewSQLConnector(db, f.queryTimeout), nil
}

// Default opens a connector against the configured source database.
func (f *Factory) Default() (Connector, error) {
	return f.Open(f.base)
}

// ForDatabase opens a connector against the configured source host
// with a database override. An empty name keeps the configured default.
func (f *Factory) ForDatabase(database string) (Connector, error) {
	params := f.base
	if database != "" {
		params.Database = database
	}
	return f.Open(params)
}
