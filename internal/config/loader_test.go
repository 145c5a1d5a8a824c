package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/jobboard/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"JOBBOARD_CONFIG",
	"JOBBOARD_ADDR",
	"JOBBOARD_LOG_LEVEL",
	"JOBBOARD_STORE_BACKEND",
	"JOBBOARD_DATABASE_URL",
	"JOBBOARD_REDIS_URL",
	"JOBBOARD_JWT_SECRET",
	"JOBBOARD_OUTBOUND_QUEUE_SIZE",
	"JOBBOARD_BID_MAX_ATTEMPTS",
	"JOBBOARD_WS_PING_INTERVAL_MS",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func createTempConfigFile(content string) string {
	f, err := os.CreateTemp("", "jobboard-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	return f.Name()
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New(ctx))
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("JOBBOARD_ADDR", ":8080")
			_ = os.Setenv("JOBBOARD_JWT_SECRET", "s3cret")
			_ = os.Setenv("JOBBOARD_OUTBOUND_QUEUE_SIZE", "64")
			_ = os.Setenv("JOBBOARD_WS_PING_INTERVAL_MS", "5000")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.JWTSecret, convey.ShouldEqual, "s3cret")
				convey.So(cfg.OutboundQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.WSPingIntervalMS, convey.ShouldEqual, 5000)
				convey.So(cfg.BidMaxAttempts, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
store_backend: Postgres
database_url: "postgres://db/jobboard"
bid_max_attempts: 8
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("JOBBOARD_CONFIG", tmpFile)
			_ = os.Setenv("JOBBOARD_BID_MAX_ATTEMPTS", "3")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendPostgres)
				convey.So(cfg.DatabaseURL, convey.ShouldEqual, "postgres://db/jobboard")
				convey.So(cfg.BidMaxAttempts, convey.ShouldEqual, 3)
				convey.So(cfg.OutboundQueueSize, convey.ShouldEqual, 256)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("JOBBOARD_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("JOBBOARD_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When postgres is selected without a DSN", func() {
			_ = os.Setenv("JOBBOARD_STORE_BACKEND", "postgres")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "database_url")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a non-numeric size", func() {
			_ = os.Setenv("JOBBOARD_OUTBOUND_QUEUE_SIZE", "lots")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail to decode", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}
