// Package config loads and validates the pipeline configuration from
// environment variables (REMINDQ_ prefix) and an optional config file.
package config

import (
	"fmt"
	"net/url"
)

// Config holds all application configuration.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Log       LogConfig       `mapstructure:"log" validate:"required"`
}

// BrokerConfig contains the RabbitMQ connection settings.
type BrokerConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	VHost    string `mapstructure:"vhost" validate:"required"`
}

// URL builds the AMQP connection URL. The default vhost "/" maps to a bare
// trailing slash; any other vhost is path-escaped.
func (b BrokerConfig) URL() string {
	vhostPath := "/"
	if b.VHost != "/" {
		vhostPath = "/" + url.PathEscape(b.VHost)
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.Username, b.Password),
		Host:   fmt.Sprintf("%s:%d", b.Host, b.Port),
		Path:   vhostPath,
	}
	return u.String()
}

// QueueConfig contains the queue topology settings.
type QueueConfig struct {
	Name             string `mapstructure:"name" validate:"required"`
	MaxRetryAttempts int    `mapstructure:"max_retry_attempts" validate:"gte=0,lte=10"`
}

// SchedulerConfig contains the scan loop settings.
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes" validate:"required,gt=0"`
}

// DatabaseConfig contains the task database settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// LogConfig contains the logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}
