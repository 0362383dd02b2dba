package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gsarma/examrunner/internal/code"
	"github.com/gsarma/examrunner/internal/config"
	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/logging"
	"github.com/gsarma/examrunner/internal/metrics"
	"github.com/gsarma/examrunner/internal/worker"
	"github.com/gsarma/examrunner/sdk"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	var conf config.Agent
	if err := conf.Load(os.Args[1:]); err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(logging.Options{Release: conf.Release, Silent: conf.Silent, Debug: conf.Debug})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	if ce := logger.Check(zap.DebugLevel, "config loaded"); ce != nil {
		ce.Write(zap.Any("config", redacted(conf)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &conf, logger); err != nil {
		logger.Fatal("agent exited", zap.Error(err))
	}
}

func run(ctx context.Context, conf *config.Agent, logger *zap.Logger) error {
	provider, err := newProvider(conf)
	if err != nil {
		return err
	}
	mode, err := job.ParseMode(conf.ExecutionMode)
	if err != nil {
		return err
	}

	client := sdk.New(conf.ServerURL,
		sdk.WithAgentKey(conf.AgentKey),
		sdk.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	var m *metrics.Agent
	if conf.MonitorAddr != "" {
		m = metrics.NewAgent(prometheus.DefaultRegisterer)
	}
	w := worker.New(client.Agent, provider, worker.Config{
		Mode:              mode,
		FilterUserID:      conf.FilterUserID,
		MaxConcurrentJobs: conf.MaxConcurrentJobs,
		PollInterval:      conf.PollInterval,
		MaxBackoff:        conf.MaxBackoff,
		ReportAttempts:    conf.ReportAttempts,
		ReportDelay:       conf.ReportDelay,
	}, m, logger)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		w.Start(ctx)
		return nil
	})
	if conf.MonitorAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		msrv := &http.Server{Addr: conf.MonitorAddr, Handler: mux}
		eg.Go(func() error {
			logger.Info("starting monitoring http server", zap.String("addr", conf.MonitorAddr))
			if err := msrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return msrv.Shutdown(shutdownCtx)
		})
	}
	err = eg.Wait()
	logger.Info("shutdown finished", zap.Error(err))
	return err
}

// redacted returns a copy of conf that is safe to log.
func redacted(conf config.Agent) config.Agent {
	if conf.AgentKey != "" {
		conf.AgentKey = "<redacted>"
	}
	if conf.Judge0Token != "" {
		conf.Judge0Token = "<redacted>"
	}
	return conf
}

func newProvider(conf *config.Agent) (code.Provider, error) {
	switch conf.Executor {
	case "judge0":
		return code.NewJudge0Provider(code.Judge0Config{
			URL:        conf.Judge0URL,
			AuthToken:  conf.Judge0Token,
			LanguageID: conf.Judge0LanguageID,
			Timeout:    conf.Timeout,
		}), nil
	default:
		return code.NewInterpreter(code.InterpreterConfig{
			Command:     conf.Interpreter,
			ScriptName:  conf.ScriptName,
			InputName:   conf.InputName,
			WorkDir:     conf.WorkDir,
			Timeout:     conf.Timeout,
			OutputLimit: conf.OutputLimit,
			ImageExts:   conf.ImageExts,
		})
	}
}
