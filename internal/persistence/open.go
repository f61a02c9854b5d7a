package persistence

import (
	"fmt"
	"strings"

	"github.com/basket/clickgram/internal/base"
	"github.com/basket/clickgram/internal/config"
)

// Open returns the record driver named by cfg, its canonical name and a
// closer. "tsv" (the default) is the flat file driver.
func Open(cfg config.DatabaseConfig) (base.Driver, string, func(), error) {
	nop := func() {}
	switch name := strings.ToLower(strings.TrimSpace(cfg.Driver)); name {
	case "", "tsv":
		return base.NewFileDriver(cfg.Path, cfg.Delimiter), "tsv", nop, nil
	case string(DialectSQLite):
		d, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, "", nop, err
		}
		return d, name, func() { _ = d.Close() }, nil
	case string(DialectPostgres):
		d, err := OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, "", nop, err
		}
		return d, name, func() { _ = d.Close() }, nil
	default:
		return nil, "", nop, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
