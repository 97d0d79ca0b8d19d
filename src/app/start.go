package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/PageDB/src/delivery"
	"github.com/Blackdeer1524/PageDB/src/pkg/common"
	"github.com/Blackdeer1524/PageDB/src/pkg/utils"
	"github.com/Blackdeer1524/PageDB/src/recovery"
	"github.com/Blackdeer1524/PageDB/src/storage/disk"
)

const CloseTimeout = 15 * time.Second

type Entrypoint struct {
	ConfigPath string
	Env        envVars

	engine  *disk.Manager
	manager *recovery.LogManager
	s       *delivery.Server
	log     common.Logger
}

func (e *Entrypoint) Init(_ context.Context) error {
	if e.ConfigPath != "" {
		if err := godotenv.Load(e.ConfigPath); err != nil {
			return fmt.Errorf("loading config %s: %w", e.ConfigPath, err)
		}
	}
	e.Env = mustLoadEnv()

	var log common.Logger
	if e.Env.Environment == EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}

	e.log = log
	sessionID := uuid.NewString()
	log.Infof("starting pagedb, session %s, data dir %s", sessionID, e.Env.DataDir)

	engine, err := disk.New(afero.NewOsFs(), e.Env.DataDir, log)
	if err != nil {
		return fmt.Errorf("opening storage engine: %w", err)
	}
	e.engine = engine

	e.manager = recovery.NewLogManager(log)
	e.manager.SetStorageEngine(engine)
	engine.SetWAL(e.manager)

	// Repeat history before serving: the durable log decides what the
	// last crash (if any) left behind.
	logText, err := engine.GetLog()
	if err != nil {
		return fmt.Errorf("reading log: %w", err)
	}
	if err := e.manager.Recover(logText); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	handler := &delivery.Handler{
		Manager: e.manager,
		Engine:  engine,
		Log:     log,
	}
	e.s = delivery.NewServer(e.Env.ServerHost, e.Env.ServerPort, handler, log)

	return nil
}

func (e *Entrypoint) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.s.Run()
	})
	g.Go(func() error {
		<-ctx.Done()

		closeCtx, cancel := context.WithTimeout(
			context.Background(),
			CloseTimeout,
		)
		defer cancel()

		return e.s.Close(closeCtx)
	})

	return g.Wait()
}

func (e *Entrypoint) Close() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout)
	defer cancel()

	if e.s != nil {
		err = e.s.Close(ctx)
	}

	if e.engine != nil {
		if flushErr := e.engine.FlushAll(); flushErr != nil && err == nil {
			err = flushErr
		}
	}

	if e.log != nil {
		if err != nil {
			e.log.Errorf("failed to close server: %v", err)
		}

		logErr := e.log.Sync()
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
