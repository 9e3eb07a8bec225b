package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	configEnv         = "BATCHDL_CONFIG"
	defaultConfigPath = "config.toml"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// exitError 携带子命令希望返回的退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// run 执行 CLI 并返回退出码，方便测试。
func run(ctx context.Context, args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stdErr, "错误: %v\n", err)
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		return 1
	}
	return 0
}

// cliOptions 汇总全局标志，便于在子命令间共享。
type cliOptions struct {
	configFlag string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	cmd := &cobra.Command{
		Use:   "batchdl",
		Short: "Batch downloader backed by a content-addressed cache",
		Long: `batchdl downloads many URLs concurrently and stores every response body in a
local cache (SQLite index + checksum-named files) so later runs skip what is
already fresh.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFlag, "config", "",
		"配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")

	cmd.AddCommand(
		newFetchCmd(opts),
		newDropCmd(opts),
		newServeCmd(opts),
		newCheckConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// configPath 按 --config、环境变量、默认文件名的顺序确定配置路径。
func (o *cliOptions) configPath() string {
	if o.configFlag != "" {
		return o.configFlag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
