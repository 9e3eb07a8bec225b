package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sunrenjie/youtube-dl/internal/cache"
	"github.com/sunrenjie/youtube-dl/internal/config"
	"github.com/sunrenjie/youtube-dl/internal/fetch"
	"github.com/sunrenjie/youtube-dl/internal/jobfile"
	"github.com/sunrenjie/youtube-dl/internal/logging"
	"github.com/sunrenjie/youtube-dl/internal/server"
	"github.com/sunrenjie/youtube-dl/internal/version"
)

// session 是子命令共享的运行环境：配置、日志与配置路径。
type session struct {
	cfg        *config.Config
	logger     *logrus.Logger
	configPath string
}

// openSession 加载配置并初始化日志。默认配置文件不存在时使用内置默认值。
func openSession(opts *cliOptions, action string) (*session, error) {
	path := opts.configPath()

	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(path); path == defaultConfigPath && errors.Is(statErr, os.ErrNotExist) {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	fields := logging.BaseFields(action, path)
	fields["argv"] = strings.Join(os.Args, " ")
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("命令启动")

	return &session{cfg: cfg, logger: logger, configPath: path}, nil
}

func (s *session) cacheOptions() cache.Options {
	g := s.cfg.Global
	return cache.Options{
		Root:       g.CacheRoot,
		IndexFile:  g.IndexFile,
		IndexTable: g.IndexTable,
		TTL:        g.CacheTTL.DurationValue(),
		Logger:     s.logger,
	}
}

// ensureCacheRoot 创建缓存根目录（若不存在）。
func (s *session) ensureCacheRoot() error {
	if err := os.MkdirAll(s.cfg.Global.CacheRoot, 0o755); err != nil {
		return fmt.Errorf("创建缓存目录失败: %w", err)
	}
	return nil
}

func newFetchCmd(opts *cliOptions) *cobra.Command {
	var (
		jobsFile string
		workers  int
		proxy    string
	)

	cmd := &cobra.Command{
		Use:   "fetch [urls...]",
		Short: "Download URLs into the cache",
		Long:  "Download every URL given as argument or listed in --jobs, skipping URLs that already have a fresh cache entry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, "fetch")
			if err != nil {
				return err
			}
			if workers > 0 {
				s.cfg.Global.Workers = workers
			}
			if proxy != "" {
				s.cfg.Global.Proxy = proxy
			}
			if err := s.cfg.Validate(); err != nil {
				return err
			}

			jobs, err := collectJobs(s, jobsFile, args)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return errors.New("没有需要下载的任务：请提供 URL 或 --jobs 文件")
			}
			if err := s.ensureCacheRoot(); err != nil {
				return err
			}

			g := s.cfg.Global
			report, runErr := fetch.Run(cmd.Context(), fetch.RunConfig{
				Cache: s.cacheOptions(),
				Pool: fetch.Options{
					Workers:        g.Workers,
					MaxAttempts:    g.MaxAttempts,
					InitialBackoff: g.InitialBackoff.DurationValue(),
					PollInterval:   g.PollInterval.DurationValue(),
					Client: fetch.ClientOptions{
						Proxy:   g.ProxyMode(),
						Timeout: g.RequestTimeout.DurationValue(),
					},
				},
				VerifyChecksum: g.VerifyChecksum,
				UserAgent:      g.UserAgent,
				Logger:         s.logger,
			}, jobs)
			printReport(report)

			if errors.Is(runErr, cache.ErrCacheRootMissing) {
				return runErr
			}
			if runErr != nil || !report.OK() {
				err := fmt.Errorf("下载未全部完成: failed=%d abandoned=%d", len(report.Failed), report.Abandoned)
				if runErr != nil {
					err = fmt.Errorf("%w: %w", err, runErr)
				}
				return &exitError{code: 1, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jobsFile, "jobs", "", "YAML 任务文件路径")
	cmd.Flags().IntVar(&workers, "workers", 0, "并发 worker 数（覆盖配置中的 Workers）")
	cmd.Flags().StringVar(&proxy, "proxy", "", "上游代理地址或 direct（覆盖配置中的 Proxy）")
	return cmd
}

// collectJobs 合并命令行 URL 与任务文件中的任务，公共请求头来自配置文件。
func collectJobs(s *session, jobsFile string, urls []string) ([]fetch.Job, error) {
	builder := jobfile.Builder{
		Headers:   s.cfg.Headers,
		UserAgent: s.cfg.Global.UserAgent,
		Logger:    s.logger,
	}

	jobs, err := builder.FromURLs(urls)
	if err != nil {
		return nil, err
	}
	if jobsFile == "" {
		return jobs, nil
	}

	file, err := jobfile.Load(jobsFile)
	if err != nil {
		return nil, err
	}
	fromFile, err := builder.FromFile(file)
	if err != nil {
		return nil, err
	}
	return append(jobs, fromFile...), nil
}

func printReport(r fetch.Report) {
	fmt.Fprintf(stdOut, "submitted=%d skipped=%d queued=%d committed=%d uncommitted=%d rejected=%d invalid=%d failed=%d aborted_workers=%d abandoned=%d\n",
		r.Submitted, r.Skipped, r.Queued, len(r.Committed), len(r.Uncommitted), len(r.Rejected), len(r.Invalid), len(r.Failed), r.AbortedWorkers, r.Abandoned)
	for _, url := range r.Failed {
		fmt.Fprintf(stdOut, "failed: %s\n", url)
	}
}

func newDropCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <url>...",
		Short: "Remove URLs from the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, "drop")
			if err != nil {
				return err
			}
			manager, err := cache.NewManager(cmd.Context(), s.cacheOptions())
			if err != nil {
				return err
			}
			defer manager.Close()

			for _, url := range args {
				manager.Drop(cmd.Context(), strings.TrimSpace(url))
				fmt.Fprintf(stdOut, "dropped: %s\n", url)
			}
			return nil
		},
	}
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cached bodies over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, "serve")
			if err != nil {
				return err
			}
			if port > 0 {
				s.cfg.Global.ListenPort = port
			}
			if err := s.cfg.Validate(); err != nil {
				return err
			}
			if err := s.ensureCacheRoot(); err != nil {
				return err
			}

			manager, err := cache.NewManager(cmd.Context(), s.cacheOptions())
			if err != nil {
				return err
			}
			defer manager.Close()

			app, err := server.NewApp(server.AppOptions{
				Logger:         s.logger,
				Token:          fetch.NewToken(manager),
				VerifyChecksum: s.cfg.Global.VerifyChecksum,
				PollInterval:   s.cfg.Global.PollInterval.DurationValue(),
			})
			if err != nil {
				return err
			}

			listen := fmt.Sprintf(":%d", s.cfg.Global.ListenPort)
			s.logger.WithFields(logrus.Fields{
				"action":     "listen",
				"port":       s.cfg.Global.ListenPort,
				"cache_root": s.cfg.Global.CacheRoot,
			}).Info("Fiber 服务启动")

			errCh := make(chan error, 1)
			go func() { errCh <- app.Listen(listen) }()
			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				s.logger.WithField("action", "shutdown").Info("收到退出信号，停止服务")
				return app.Shutdown()
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "监听端口（覆盖配置中的 ListenPort）")
	return cmd
}

func newCheckConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, "check_config")
			if err != nil {
				return err
			}
			g := s.cfg.Global
			fields := logging.BaseFields("check_config", s.configPath)
			fields["cache_root"] = g.CacheRoot
			fields["index"] = g.IndexPath()
			fields["workers"] = g.Workers
			fields["proxy"] = g.ProxyMode()
			fields["result"] = "ok"
			s.logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}
