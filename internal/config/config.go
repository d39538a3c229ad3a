package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GrocyBaseURL string
	GrocyAPIKey  string
	APITimeout   time.Duration

	// MQTT scan feed
	BrokerURL    string
	Topic        string
	MQTTClientID string

	// Kafka scan feed, used instead of MQTT when KAFKA_BROKERS is set
	KafkaBrokers  string
	KafkaTopic    string
	KafkaGroupID  string
	KafkaUsername string
	KafkaPassword string
	KafkaCACert   string

	// optional cache snapshot store
	RedisURL           string
	RedisSentinelAddrs []string
	RedisMasterName    string

	// optional booking journal
	DatabaseURL string

	ServerPort string
	GRPCPort   string

	PollInterval       time.Duration
	ObjectTTL          time.Duration
	ObjectMinInterval  time.Duration
	ErrorRevertDelay   time.Duration
	ProgressResetDelay time.Duration
	ShoppingListID     int
}

func Load() *Config {
	return &Config{
		GrocyBaseURL:       getEnv("GROCY_BASE_URL", "http://localhost/api"),
		GrocyAPIKey:        getEnv("GROCY_API_KEY", ""),
		APITimeout:         getEnvDuration("API_TIMEOUT", 10*time.Second),
		BrokerURL:          getEnv("BROKER_URL", ""),
		Topic:              getEnv("TOPIC", ""),
		MQTTClientID:       getEnv("MQTT_CLIENT_ID", "grocy-station"),
		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "grocy-station-scans"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "grocy-station"),
		KafkaUsername:      getEnv("KAFKA_USERNAME", ""),
		KafkaPassword:      getEnv("KAFKA_PASSWORD", ""),
		KafkaCACert:        getEnv("KAFKA_CA_CERT", ""),
		RedisURL:           redisURL(),
		RedisSentinelAddrs: splitList(getEnv("REDIS_SENTINEL_ADDRS", "")),
		RedisMasterName:    getEnv("REDIS_MASTER_NAME", "mymaster"),
		DatabaseURL:        databaseURL(),
		ServerPort:         getEnv("PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", ""),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 15*time.Second),
		ObjectTTL:          getEnvDuration("OBJECT_TTL", time.Hour),
		ObjectMinInterval:  getEnvDuration("OBJECT_MIN_INTERVAL", 5*time.Minute),
		ErrorRevertDelay:   getEnvDuration("ERROR_REVERT_DELAY", 10*time.Second),
		ProgressResetDelay: getEnvDuration("PROGRESS_RESET_DELAY", 300*time.Millisecond),
		ShoppingListID:     getEnvInt("SHOPPING_LIST_ID", 0),
	}
}

// databaseURL checks DATABASE_URL, POSTGRES_URL, PGDATABASE_URL and finally builds a
// URL from PGHOST and friends. Empty means no booking journal database.
func databaseURL() string {
	if url := getEnv("DATABASE_URL", ""); url != "" {
		return url
	}
	if url := getEnv("POSTGRES_URL", ""); url != "" {
		return url
	}
	if url := getEnv("PGDATABASE_URL", ""); url != "" {
		return url
	}
	pgHost := getEnv("PGHOST", "")
	if pgHost == "" {
		return ""
	}
	pgPort := getEnv("PGPORT", "5432")
	pgUser := getEnv("PGUSER", "postgres")
	pgPassword := getEnv("PGPASSWORD", "")
	pgDatabase := getEnv("PGDATABASE", "grocy_station")
	if pgPassword != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, pgHost, pgPort, pgDatabase)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=disable", pgUser, pgHost, pgPort, pgDatabase)
}

// redisURL checks REDIS_URL, REDISCLOUD_URL and then REDISHOST and friends
func redisURL() string {
	if url := getEnv("REDIS_URL", ""); url != "" {
		return url
	}
	if url := getEnv("REDISCLOUD_URL", ""); url != "" {
		return url
	}
	redisHost := getEnv("REDISHOST", "")
	if redisHost == "" {
		return ""
	}
	redisPort := getEnv("REDISPORT", "6379")
	redisPassword := getEnv("REDISPASSWORD", "")
	redisDB := getEnv("REDISDB", "0")
	if redisPassword != "" {
		return fmt.Sprintf("redis://:%s@%s:%s/%s", redisPassword, redisHost, redisPort, redisDB)
	}
	return fmt.Sprintf("redis://%s:%s/%s", redisHost, redisPort, redisDB)
}

// RedisEnabled reports whether a snapshot store is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != "" || len(c.RedisSentinelAddrs) > 0
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or plain seconds ("15")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
