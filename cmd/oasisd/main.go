// Oasisd is the self-hostable Oasis server binary.
//
// It serves all four HTTP surfaces (admin, CI, SDK, public) from one
// listener, backed by postgres and an optional S3-compatible bucket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oasishq/oasis/auth"
	"github.com/oasishq/oasis/catalog"
	"github.com/oasishq/oasis/datastore/postgres"
	"github.com/oasishq/oasis/httptransport"
	"github.com/oasishq/oasis/ingest"
	"github.com/oasishq/oasis/internal/objstore"
	"github.com/oasishq/oasis/updates"
)

// Config is parsed by the goconfig library from flags and env vars.
// See: https://github.com/crgimenes/goconfig
type Config struct {
	HTTPListenAddr string `cfgDefault:"0.0.0.0:8080" cfg:"HTTP_LISTEN_ADDR"`
	ConnString     string `cfgDefault:"host=localhost port=5432 user=oasis dbname=oasis sslmode=disable" cfg:"CONNECTION_STRING" cfgHelper:"Connection string for the postgres datastore"`
	MaxConnPool    int    `cfgDefault:"50" cfg:"MAX_CONN_POOL" cfgHelper:"The maximum size of the database connection pool"`
	Migrations     bool   `cfgDefault:"true" cfg:"MIGRATIONS" cfgHelper:"Should the server run migrations on startup"`
	LogLevel       string `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warn, error, fatal, panic"`

	S3Bucket        string `cfg:"S3_BUCKET" cfgHelper:"Bucket artifacts are stored in. Empty disables object storage"`
	S3Region        string `cfgDefault:"us-east-1" cfg:"S3_REGION"`
	S3Endpoint      string `cfg:"S3_ENDPOINT" cfgHelper:"Endpoint override for R2 or minio. Empty means AWS proper"`
	S3AccessKey     string `cfg:"S3_ACCESS_KEY_ID"`
	S3SecretKey     string `cfg:"S3_SECRET_ACCESS_KEY"`
	S3PublicBaseURL string `cfg:"S3_PUBLIC_BASE_URL" cfgHelper:"Public CDN base serving the bucket. Empty means presigned GETs"`
	S3PathStyle     bool   `cfgDefault:"false" cfg:"S3_USE_PATH_STYLE" cfgHelper:"Use path-style bucket addressing (minio)"`

	ShutdownGrace int `cfgDefault:"10" cfg:"SHUTDOWN_GRACE" cfgHelper:"Seconds to wait for in-flight requests on shutdown"`
}

func main() {
	// parse our config
	conf := Config{}
	err := goconfig.Parse(&conf)
	if err != nil {
		log.Fatal().Msgf("failed to parse config: %v", err)
	}

	// setup pretty logging
	zerolog.SetGlobalLevel(logLevel(conf))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	pool, err := postgres.Connect(ctx, poolConnString(conf), "oasisd")
	if err != nil {
		log.Fatal().Msgf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	store, err := postgres.InitPostgresStore(ctx, pool, conf.Migrations)
	if err != nil {
		log.Fatal().Msgf("failed to initialize datastore: %v", err)
	}

	var objects objstore.Store
	if conf.S3Bucket == "" {
		log.Warn().Msg("no S3_BUCKET configured, artifact upload and download are disabled")
		objects = objstore.NewDisabled()
	} else {
		s3, err := objstore.NewS3(ctx, objstore.Config{
			Bucket:          conf.S3Bucket,
			Region:          conf.S3Region,
			Endpoint:        conf.S3Endpoint,
			AccessKeyID:     conf.S3AccessKey,
			SecretAccessKey: conf.S3SecretKey,
			PublicBaseURL:   conf.S3PublicBaseURL,
			UsePathStyle:    conf.S3PathStyle,
		})
		if err != nil {
			log.Fatal().Msgf("failed to configure object storage: %v", err)
		}
		objects = s3
	}

	h, err := httptransport.New(httptransport.Opts{
		Auth:    auth.New(store),
		Catalog: catalog.New(store, objects),
		Updates: updates.New(store),
		Ingest:  ingest.New(store),
		Ready:   pool.Ping,
	})
	if err != nil {
		log.Fatal().Msgf("failed to assemble http transport: %v", err)
	}

	srv := &http.Server{
		Addr:        conf.HTTPListenAddr,
		Handler:     h,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		grace := time.Duration(conf.ShutdownGrace) * time.Second
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		log.Info().Msg("draining connections")
		if err := srv.Shutdown(sctx); err != nil {
			srv.Close()
		}
	}()

	log.Info().Str("addr", conf.HTTPListenAddr).Msg("starting http server")
	err = srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Msgf("failed to start http server: %v", err)
	}
	<-done
	log.Info().Msg("shutdown complete")
}

func logLevel(conf Config) zerolog.Level {
	level := strings.ToLower(conf.LogLevel)
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// poolConnString folds MAX_CONN_POOL into the connection string, which is
// where pgx v5 reads pool sizing from. URL-form strings are left alone since
// the parameter belongs in their query part.
func poolConnString(conf Config) string {
	cs := conf.ConnString
	switch {
	case conf.MaxConnPool <= 0:
	case strings.Contains(cs, "pool_max_conns"):
	case strings.Contains(cs, "://"):
		log.Warn().Msg("MAX_CONN_POOL is ignored for URL connection strings, set pool_max_conns there instead")
	default:
		cs = fmt.Sprintf("%s pool_max_conns=%d", cs, conf.MaxConnPool)
	}
	return cs
}
