package database

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tmsmtm/config"
)

// OpenInMemory opens a private, migrated sqlite database held in memory.
// Each call gets its own database; a single connection keeps it alive.
func OpenInMemory() (*gorm.DB, error) {
	return Open(&config.Config{
		DBDriver:       "sqlite",
		DBName:         fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		DBMaxOpenConns: 1,
		DBMaxIdleConns: 1,
	})
}
