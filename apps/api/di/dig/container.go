package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	echoapi "github.com/kbhujbal/edunexus/apps/api/echo"
	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/course"
	"github.com/kbhujbal/edunexus/core/token"
	"github.com/kbhujbal/edunexus/core/user"
	emailsvc "github.com/kbhujbal/edunexus/services/email"
	logsvc "github.com/kbhujbal/edunexus/services/logger"
	metricsvc "github.com/kbhujbal/edunexus/services/metrics"
	"github.com/kbhujbal/edunexus/storage/cache"
	"github.com/kbhujbal/edunexus/storage/database"
	inmemdb "github.com/kbhujbal/edunexus/storage/database/inmem"
	sqlxrepos "github.com/kbhujbal/edunexus/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Store holds the repositories of the configured database engine.
type Store struct {
	Users   user.Repository
	Courses course.Repository

	// Ping reports whether the database is reachable.
	Ping func(ctx context.Context) error
	// Close releases the database connections.
	Close func() error
}

type depsParam struct {
	dig.In

	Tokens     *token.Service
	UserSvc    *user.Service
	CourseSvc  *course.Service
	Validate   *validator.Validate
	Translator ut.Translator
	Metrics    *metricsvc.Collector
	Registry   *prometheus.Registry
	Store      *Store
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newStore(conf *core.Config, loggerParam DBLoggerParam) (*Store, error) {
	logger := loggerParam.Logger

	if conf.Database.Engine == "memory" {
		logger.Warn("using the in-memory store; data will not survive a restart")
		db := inmemdb.Open()
		return &Store{
			Users:   inmemdb.NewUserRepository(db),
			Courses: inmemdb.NewCourseRepository(db),
			Ping:    func(context.Context) error { return nil },
			Close:   func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err = database.Migrate(ctx, db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrating database")
	}
	logger.Info(fmt.Sprintf("connected to %s", conf.Database.Address()))

	return &Store{
		Users:   sqlxrepos.NewUserRepository(db),
		Courses: sqlxrepos.NewCourseRepository(db),
		Ping:    func(ctx context.Context) error { return database.StatusCheck(ctx, db) },
		Close:   db.Close,
	}, nil
}

// newCourseRepository puts the Redis cache in front of the store when one is configured.
func newCourseRepository(conf *core.Config, store *Store, loggerParam DBLoggerParam) (course.Repository, error) {
	if conf.Redis.Addr == "" {
		return store.Courses, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := cache.NewClient(ctx, conf.Redis)
	if err != nil {
		return nil, err
	}
	closeDB := store.Close
	store.Close = func() error {
		_ = client.Close()
		return closeDB()
	}
	return cache.NewCourseRepository(store.Courses, client, conf.Redis.TTL, loggerParam.Logger), nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	return emailsvc.NewService(conf, logger)
}

func newValidate(translator ut.Translator) *validator.Validate {
	validate := core.NewValidate(translator)
	user.InitValidators(validate, translator)
	course.InitValidators(validate, translator)
	return validate
}

func newUserService(store *Store, mailSvc core.EmailService) *user.Service {
	return user.NewService(store.Users, mailSvc)
}

func newCourseService(repo course.Repository, usrSvc *user.Service, mailSvc core.EmailService, metrics *metricsvc.Collector) *course.Service {
	return course.NewService(repo, usrSvc, mailSvc, metrics)
}

func newDeps(p depsParam) *echoapi.Deps {
	return &echoapi.Deps{
		Tokens:      p.Tokens,
		UserSvc:     p.UserSvc,
		CourseSvc:   p.CourseSvc,
		Validate:    p.Validate,
		Translator:  p.Translator,
		Metrics:     p.Metrics,
		Gatherer:    p.Registry,
		HealthCheck: p.Store.Ping,
	}
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStore))
	must(c.Provide(newCourseRepository))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidate))
	must(c.Provide(token.NewServiceFromConfig))
	must(c.Provide(metricsvc.NewRegistry))
	must(c.Provide(func(reg *prometheus.Registry) *metricsvc.Collector { return metricsvc.NewCollector(reg) }))
	must(c.Provide(newUserService))
	must(c.Provide(newCourseService))
	must(c.Provide(newDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
