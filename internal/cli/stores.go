package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ai-tutor-go/internal/config"
	"ai-tutor-go/internal/repository"
	"ai-tutor-go/pkg/database"
	"ai-tutor-go/pkg/log"

	"golang.org/x/term"
	"gorm.io/gorm"
)

var errNotTerminal = errors.New("stdin is not a terminal")

// openUserRepository 按 database.driver 打开用户存储。gorm 驱动会同时返回 *gorm.DB，其余为 nil。
func openUserRepository(cfg *config.Config, migrate bool) (repository.UserRepository, *gorm.DB, error) {
	var (
		repo repository.UserRepository
		db   *gorm.DB
		err  error
	)
	switch driver := strings.ToLower(cfg.Database.Driver); driver {
	case "supabase":
		repo, err = repository.NewSupabaseUserRepository(cfg.Database.Supabase.URL, cfg.Database.Supabase.Key)
		if err != nil {
			return nil, nil, err
		}
	case "postgres", "mysql", "sqlite":
		dsn := cfg.Database.Postgres.DSN
		switch driver {
		case "mysql":
			dsn = cfg.Database.MySQL.DSN
		case "sqlite":
			dsn = cfg.Database.SQLite.DSN
		}
		if dsn == "" {
			return nil, nil, fmt.Errorf("database.%s.dsn is required", driver)
		}
		db, err = database.OpenGorm(driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := repository.Migrate(db); err != nil {
				closeGorm(db)
				return nil, nil, fmt.Errorf("migrate users table: %w", err)
			}
		}
		repo = repository.NewUserRepository(db)
	case "memory":
		repo = repository.NewMemoryUserRepository()
	default:
		return nil, nil, fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	return repository.WithTimeout(repo, cfg.Database.Timeout), db, nil
}

// closeGorm 关闭 gorm 底层的连接池。
func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warnf("关闭数据库连接失败: %v", err)
		}
	}
}

// isInteractive 报告 stdin 是否连接到终端。
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readSecret 在终端中不回显地读取一行输入。
func readSecret(prompt string) (string, error) {
	if !isInteractive() {
		return "", errNotTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
