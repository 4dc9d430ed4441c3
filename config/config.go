package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/store"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

type WhatsAppConfig struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"-"`
	From       string `json:"from"`
}

type IMAPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Encryption   string        `json:"encryption"`
	Username     string        `json:"username"`
	Password     string        `json:"-"`
	Mailbox      string        `json:"mailbox"`
	PollInterval time.Duration `json:"poll_interval"`
}

type LLMConfig struct {
	ServerURL string        `json:"server_url"`
	Model     string        `json:"model"`
	Timeout   time.Duration `json:"timeout"`
}

type NurturingConfig struct {
	Times       string        `json:"times"`
	Timezone    string        `json:"timezone"`
	Workers     int           `json:"workers"`
	RulesFile   string        `json:"rules_file"`
	PassTimeout time.Duration `json:"pass_timeout"`
	SendTimeout time.Duration `json:"send_timeout"`
}

type Config struct {
	Environment    string          `json:"environment"`
	LogLevel       string          `json:"log_level"`
	SentryDSN      string          `json:"-"`
	ServerPort     string          `json:"server_port"`
	AllowedOrigins []string        `json:"allowed_origins"`
	DBHost         string          `json:"db_host"`
	DBPort         string          `json:"db_port"`
	DBUser         string          `json:"db_user"`
	DBPassword     string          `json:"-"`
	DBName         string          `json:"db_name"`
	DBSSLMode      string          `json:"db_ssl_mode"`
	DBMaxIdleConns int             `json:"db_max_idle_conns"`
	DBMaxOpenConns int             `json:"db_max_open_conns"`
	UseMemoryStore bool            `json:"use_memory_store"`
	JWTSecret      string          `json:"-"`
	JWTTTL         time.Duration   `json:"jwt_ttl"`
	AdminKeyHash   string          `json:"-"`
	WebhookSecret  string          `json:"-"`
	WebhookRate    int             `json:"webhook_rate"`
	AgentName      string          `json:"agent_name"`
	CompanyName    string          `json:"company_name"`
	TaskCooldown   time.Duration   `json:"task_cooldown"`
	ReportTime     string          `json:"report_time"`
	Redis          RedisConfig     `json:"redis"`
	SMTP           SMTPConfig      `json:"smtp"`
	WhatsApp       WhatsAppConfig  `json:"whatsapp"`
	IMAP           IMAPConfig      `json:"imap"`
	LLM            LLMConfig       `json:"llm"`
	Nurturing      NurturingConfig `json:"nurturing"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", "http://localhost:3000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTTTL:         getEnvAsDuration("JWT_TTL", 12*time.Hour),
		AdminKeyHash:   getEnv("ADMIN_KEY_HASH", ""),
		WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
		WebhookRate:    getEnvAsInt("WEBHOOK_RATE_PER_MINUTE", 120),
		AgentName:      getEnv("AGENT_NAME", "Laura"),
		CompanyName:    getEnv("COMPANY_NAME", "Inmobiliaria"),
		TaskCooldown:   getEnvAsDuration("TASK_COOLDOWN", 24*time.Hour),
		ReportTime:     getEnv("DAILY_REPORT_TIME", "21:00"),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("FROM_EMAIL", ""),
			FromName:  getEnv("FROM_NAME", ""),
		},
		WhatsApp: WhatsAppConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			From:       getEnv("TWILIO_WHATSAPP_FROM", ""),
		},
		IMAP: IMAPConfig{
			Host:         getEnv("IMAP_HOST", ""),
			Port:         getEnvAsInt("IMAP_PORT", 993),
			Encryption:   getEnv("IMAP_ENCRYPTION", "SSL"),
			Username:     getEnv("IMAP_USERNAME", ""),
			Password:     getEnv("IMAP_PASSWORD", ""),
			Mailbox:      getEnv("IMAP_MAILBOX", "INBOX"),
			PollInterval: getEnvAsDuration("IMAP_POLL_INTERVAL", 5*time.Minute),
		},
		LLM: LLMConfig{
			ServerURL: getEnv("OLLAMA_SERVER_URL", "http://localhost:11434"),
			Model:     getEnv("OLLAMA_MODEL", "llama3.1"),
			Timeout:   getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Nurturing: NurturingConfig{
			Times:       getEnv("NURTURING_TIMES", "09:00,13:00,17:00"),
			Timezone:    getEnv("NURTURING_TIMEZONE", "Europe/Madrid"),
			Workers:     getEnvAsInt("NURTURING_WORKERS", 4),
			RulesFile:   getEnv("NURTURING_RULES_FILE", ""),
			PassTimeout: getEnvAsDuration("NURTURING_PASS_TIMEOUT", 30*time.Minute),
			SendTimeout: getEnvAsDuration("NURTURING_SEND_TIMEOUT", 30*time.Second),
		},
	}

	// Validate required configurations
	if !AppConfig.UseMemoryStore && AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required in production")
		}
		if AppConfig.AdminKeyHash == "" {
			return fmt.Errorf("ADMIN_KEY_HASH is required in production")
		}
	}
	if _, err := time.LoadLocation(AppConfig.Nurturing.Timezone); err != nil {
		return fmt.Errorf("invalid NURTURING_TIMEZONE: %w", err)
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log := logrus.WithField("component", "config")
	log.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.WithField("dsn", maskPassword(dsn)).Info("Using connection string")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("✅ Successfully connected to the database")
	log.Info("🔄 Starting database migration...")
	if err := store.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":  AppConfig.Environment,
		"server_port":  AppConfig.ServerPort,
		"database":     fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"memory_store": AppConfig.UseMemoryStore,
		"redis":        AppConfig.Redis.Enabled,
		"smtp":         AppConfig.SMTP.Host != "",
		"whatsapp":     AppConfig.WhatsApp.AccountSID != "",
		"imap":         AppConfig.IMAP.Host != "",
		"llm_model":    AppConfig.LLM.Model,
		"nurturing":    AppConfig.Nurturing.Times + " " + AppConfig.Nurturing.Timezone,
	}).Info("🔧 Loaded configuration")
}
