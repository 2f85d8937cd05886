package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	SMTP     SMTPConfig
	Limits   LimitsConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int32
	// ConnLifetime recycles pooled connections.
	ConnLifetime time.Duration
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Name, p.SSLMode,
	)
}

type GatewayConfig struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	ReturnURL string
	Test      bool
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (port 465); otherwise STARTTLS is used.
	ImplicitTLS bool
	Timeout     time.Duration
}

type LimitsConfig struct {
	RegisterPerMinute    int
	IdempotencyTTL       time.Duration
	TicketViewTTL        time.Duration
	// TicketPendingViewTTL caches views of unpaid tickets.
	TicketPendingViewTTL time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := getInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: getString("SERVER_HOST", "localhost"),
		Port: serverPort,
	}

	postgresPort, err := getInt("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	postgresMaxConns, err := getInt("POSTGRES_POOL_SIZE", 20)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	postgresLifetime, err := getDuration("POSTGRES_POOL_RECYCLE", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresCfg := PostgresConfig{
		User:         postgresUser,
		Password:     postgresPassword,
		Name:         postgresDB,
		Host:         getString("POSTGRES_HOST", "localhost"),
		Port:         postgresPort,
		SSLMode:      getString("POSTGRES_SSLMODE", "disable"),
		MaxConns:     int32(postgresMaxConns),
		ConnLifetime: postgresLifetime,
	}

	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Addr:     getString("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	shopID := os.Getenv("GATEWAY_SHOP_ID")
	secretKey := os.Getenv("GATEWAY_SECRET_KEY")
	if shopID == "" || secretKey == "" {
		return nil, fmt.Errorf("%s: GATEWAY_SHOP_ID and GATEWAY_SECRET_KEY must be set", op)
	}

	gatewayTest, err := getBool("GATEWAY_TEST", false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	gatewayCfg := GatewayConfig{
		BaseURL:   getString("GATEWAY_BASE_URL", "https://api.yookassa.ru/v3"),
		ShopID:    shopID,
		SecretKey: secretKey,
		ReturnURL: getString("GATEWAY_RETURN_URL", "https://example.com"),
		Test:      gatewayTest,
	}

	smtpPort, err := getInt("SMTP_PORT", 465)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	smtpTLS, err := getBool("SMTP_IMPLICIT_TLS", smtpPort == 465)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	smtpTimeout, err := getDuration("SMTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	smtpUser := os.Getenv("SMTP_USER")

	smtpCfg := SMTPConfig{
		Host:        os.Getenv("SMTP_HOST"),
		Port:        smtpPort,
		User:        smtpUser,
		Password:    os.Getenv("SMTP_PASSWORD"),
		From:        getString("SMTP_FROM", smtpUser),
		ImplicitTLS: smtpTLS,
		Timeout:     smtpTimeout,
	}

	registerLimit, err := getInt("REGISTER_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	idemTTL, err := getDuration("IDEMPOTENCY_TTL", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	viewTTL, err := getDuration("TICKET_VIEW_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pendingViewTTL, err := getDuration("TICKET_PENDING_VIEW_TTL", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Gateway:  gatewayCfg,
		SMTP:     smtpCfg,
		Limits: LimitsConfig{
			RegisterPerMinute:    registerLimit,
			IdempotencyTTL:       idemTTL,
			TicketViewTTL:        viewTTL,
			TicketPendingViewTTL: pendingViewTTL,
		},
	}, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
