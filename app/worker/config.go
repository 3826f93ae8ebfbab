package worker

import (
	"github.com/dmitrymomot/jobqueue/core/queue"
	"github.com/dmitrymomot/jobqueue/integration/database/redis"
)

type Config struct {
	Redis redis.Config
	Queue queue.Config

	AppName    string `env:"APP_NAME" envDefault:"jobworker"`
	Env        string `env:"APP_ENV" envDefault:"development"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	HealthAddr string `env:"HEALTH_ADDR" envDefault:":8081"`
}
