package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClickHouseOptions struct {
	Host       string
	Port       int
	Database   string
	Username   string
	Password   string
	AppVersion string
}

type ClickHouseClient struct {
	Conn   clickhouse.Conn
	logger *slog.Logger
}

func NewClickHouseDB(ctx context.Context, o ClickHouseOptions, logger *slog.Logger) (*ClickHouseClient, error) {
	if o.Host == "" || o.Port == 0 || o.Database == "" {
		return nil, fmt.Errorf("clickhouse host, port and database are required")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", o.Host, o.Port)},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "clicktrail-api", Version: o.AppVersion}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: time.Second * 5,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}

	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("connected to ClickHouse", "addr", options.Addr[0])
	return &ClickHouseClient{Conn: conn, logger: logger}, nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		c.logger.Info("ClickHouse connection closed")
	}
}
