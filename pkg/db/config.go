package db

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/viotraix/internal/config"
)

// Config describes one database connection. URL, when set, wins over the
// discrete host fields; Supabase hands out connection strings in that form.
type Config struct {
	Type           string
	URL            string
	Host           string
	Port           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	SimpleProtocol bool

	MaxIdle     int
	MaxOpen     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Type:           strings.ToLower(strings.TrimSpace(cfg.DBType)),
		URL:            strings.TrimSpace(cfg.DBURL),
		Host:           cfg.DBHost,
		Port:           cfg.DBPort,
		Name:           cfg.DBName,
		User:           cfg.DBUser,
		Password:       cfg.DBPassword,
		SSLMode:        cfg.DBSSLMode,
		SimpleProtocol: cfg.DBSimpleProtocol,
		MaxIdle:        cfg.DBMaxIdleConn,
		MaxOpen:        cfg.DBMaxOpenConn,
		MaxLifetime:    time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		MaxIdleTime:    time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	}
}

// DSN renders the driver connection string for Type.
func (c Config) DSN() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	switch c.Type {
	case "postgres":
		q := url.Values{}
		q.Set("sslmode", orDefault(c.SSLMode, "disable"))
		q.Set("TimeZone", "UTC")
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.Host + ":" + orDefault(c.Port, "5432"),
			Path:     "/" + c.Name,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, orDefault(c.Port, "3306"), c.Name), nil
	case "sqlite":
		return orDefault(strings.TrimSpace(c.Name), "viotraix.db"), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, c.Type)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
