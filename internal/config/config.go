package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN             string // строка подключения PostgreSQL
	Environment       string // development / production
	MigrationsPath    string // каталог goose-миграций
	TelegramToken     string // пустой = уведомления выключены
	TelegramAdminChat int64  // чат для операционных уведомлений
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	cfg := &Config{
		DBDSN:          os.Getenv("DB_DSN"),
		Environment:    os.Getenv("ENV"),
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
	}

	// Устанавливаем дефолтные значения
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}

	if chat := os.Getenv("TELEGRAM_ADMIN_CHAT"); chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ADMIN_CHAT must be a chat id: %w", err)
		}
		cfg.TelegramAdminChat = id
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}

	return cfg, nil
}

// NotificationsEnabled включены ли telegram-уведомления
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramAdminChat != 0
}
