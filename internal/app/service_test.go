package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	service "github.com/okian/jobboard/internal/app"
	"github.com/okian/jobboard/internal/domain/bidding"
	"github.com/okian/jobboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it reports the memory backend and is not started", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["store_backend"], ShouldEqual, "memory")
			So(stats["relay"], ShouldEqual, false)
			So(stats["auth"], ShouldEqual, false)
			So(svc.Verifier(), ShouldBeNil)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithJWTSecret("secret"),
			service.WithRetryPolicy(bidding.Policy{MaxAttempts: 2}),
			service.WithStoreBackend("postgres", "postgres://localhost/jobboard"),
		)

		Convey("Then the stats reflect them", func() {
			stats := svc.GetStats()
			So(stats["store_backend"], ShouldEqual, "postgres")
			So(stats["auth"], ShouldEqual, true)
		})
	})
}

func TestService_Start(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithJWTSecret("secret"))
		// Ensure service is stopped after test
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				So(svc.Verifier().Enabled(), ShouldBeTrue)
			})

			Convey("And it should be marked as started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["sessions"], ShouldEqual, int64(0))
				So(stats["bid_sessions"], ShouldEqual, 0)
			})

			Convey("And starting again is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})
	})

	Convey("Given a service with an unknown backend", t, func() {
		svc := service.New(service.WithStoreBackend("mongo", ""))

		Convey("Then Start fails", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, service.ErrUnknownBackend), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})

	Convey("Given a service pointed at unreachable dependencies", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		Convey("Then a dead database fails Start", func() {
			svc := service.New(service.WithStoreBackend("postgres", "postgres://jobboard@127.0.0.1:1/jobboard?connect_timeout=1"))
			So(svc.Start(ctx), ShouldNotBeNil)
		})

		Convey("Then a dead relay fails Start", func() {
			svc := service.New(service.WithRelay("redis://127.0.0.1:1/0", ""))
			err := svc.Start(ctx)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "connect relay")
		})
	})
}

func TestService_Stop(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := svc.Start(ctx)
		So(err, ShouldBeNil)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
			})

			Convey("And stopping again is safe", func() {
				So(func() { svc.Stop() }, ShouldNotPanic)
			})
		})
	})
}

func TestService_Register(t *testing.T) {
	Convey("Given a service that has not started", t, func() {
		svc := service.New()

		Convey("Then Register and Run refuse", func() {
			mux := http.NewServeMux()
			So(svc.Register(context.Background(), mux), ShouldEqual, service.ErrNotStarted)
			So(svc.Run(context.Background()), ShouldEqual, service.ErrNotStarted)
		})
	})

	Convey("Given a started service", t, func() {
		svc := service.New()
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mux := http.NewServeMux()
		So(svc.Register(ctx, mux), ShouldBeNil)

		Convey("Then the stats route serves the service stats", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"store_backend":"memory"`)
		})

		Convey("Then jobs can be created and read back", func() {
			body := `{"client_id":"C1","job_title":"API","description":"d","job_category":"dev"}`
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body)))
			So(w.Code, ShouldEqual, http.StatusCreated)

			w = httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs?view=titles", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"job_title":"API"`)
		})

		Convey("Then Run without a relay returns when ctx ends", func() {
			done := make(chan error, 1)
			go func() { done <- svc.Run(ctx) }()
			cancel()
			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
		})
	})
}
