/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/almanac-app/almanac/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Project{},
		&models.Task{},
		&models.CalendarFeed{},
		&models.CalendarEvent{},
		&models.AutoScheduleSettings{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
