// Package cli 定义 ai-tutor 的命令行入口：serve、setup-users 和 config。
package cli

import (
	"fmt"
	"os"

	"ai-tutor-go/internal/config"
	"ai-tutor-go/pkg/log"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	version = "dev" // 构建时通过 ldflags 注入
)

var rootCmd = &cobra.Command{
	Use:   "ai-tutor",
	Short: "AI language tutor backend",
	Long: `ai-tutor serves a conversational language tutor over HTTP.
Learners talk or type to a persona, get a reply with an optional correction,
and can hear the reply spoken back.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	// 未指定子命令时直接启动服务
	RunE: runServe,
}

// Execute 运行根命令，由 main 调用。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./configs/config.yaml", "Path to the YAML config file (empty for defaults and environment only)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupUsersCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig 读取配置文件并初始化日志。配置文件不存在时只使用默认值和环境变量。
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "config file %s not found, using defaults and environment\n", path)
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	config.Conf = *cfg
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}
