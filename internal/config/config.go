package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Dataset  DatasetConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	MaxItems     int
	MaxPages     int
	MaxRetries   int
	RetryDelay   time.Duration
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration
	PageDelay    time.Duration
	UserAgents   []string
	Proxies      []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

// DatasetConfig holds the parameters for both dataset packages. The
// augmentation settings apply to the training split only.
type DatasetConfig struct {
	ResNetImageSize    int
	LLaVAImageSize     int
	TrainRatio         float64
	AugmentationFactor int
	MaxRotationDegrees int
	Seed               int64
}

type StorageConfig struct {
	HarvestDir     string
	DatasetDir     string
	CategoriesPath string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			MaxItems:     getIntOrDefault("SCRAPER_MAX_ITEMS", 100),
			MaxPages:     getIntOrDefault("SCRAPER_MAX_PAGES", 5),
			MaxRetries:   getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:   getDurationOrDefault("SCRAPER_RETRY_DELAY", 2*time.Second),
			ItemDelayMin: getDurationOrDefault("SCRAPER_ITEM_DELAY_MIN", 500*time.Millisecond),
			ItemDelayMax: getDurationOrDefault("SCRAPER_ITEM_DELAY_MAX", 1500*time.Millisecond),
			PageDelay:    getDurationOrDefault("SCRAPER_PAGE_DELAY", 3*time.Second),
			UserAgents:   getStringSliceOrDefault("SCRAPER_USER_AGENTS", defaultUserAgents()),
			Proxies:      getStringSliceOrDefault("SCRAPER_PROXIES", []string{}),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Dataset: DatasetConfig{
			ResNetImageSize:    getIntOrDefault("DATASET_RESNET_IMAGE_SIZE", 224),
			LLaVAImageSize:     getIntOrDefault("DATASET_LLAVA_IMAGE_SIZE", 512),
			TrainRatio:         getFloatOrDefault("DATASET_TRAIN_RATIO", 0.8),
			AugmentationFactor: getIntOrDefault("DATASET_AUGMENTATION_FACTOR", 3),
			MaxRotationDegrees: getIntOrDefault("DATASET_MAX_ROTATION_DEGREES", 15),
			Seed:               int64(getIntOrDefault("DATASET_SEED", 42)),
		},
		Storage: StorageConfig{
			HarvestDir:     getEnvOrDefault("STORAGE_HARVEST_DIR", "jewelry_dataset/raw_data"),
			DatasetDir:     getEnvOrDefault("STORAGE_DATASET_DIR", "jewelry_dataset/datasets"),
			CategoriesPath: getEnvOrDefault("STORAGE_CATEGORIES_PATH", "jewelry_dataset/categories.yaml"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "jewelry_scraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:scraper_tasks"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxItems < 1 {
		return fmt.Errorf("SCRAPER_MAX_ITEMS must be at least 1")
	}

	if c.Scraper.MaxPages < 1 {
		return fmt.Errorf("SCRAPER_MAX_PAGES must be at least 1")
	}

	if c.Scraper.ItemDelayMin > c.Scraper.ItemDelayMax {
		return fmt.Errorf("SCRAPER_ITEM_DELAY_MIN cannot be greater than SCRAPER_ITEM_DELAY_MAX")
	}

	if c.Dataset.TrainRatio <= 0 || c.Dataset.TrainRatio >= 1 {
		return fmt.Errorf("DATASET_TRAIN_RATIO must be between 0 and 1 exclusive")
	}

	if c.Dataset.AugmentationFactor < 0 {
		return fmt.Errorf("DATASET_AUGMENTATION_FACTOR cannot be negative")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
