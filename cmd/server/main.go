package main

import (
	"os"

	"redpacket/pkg/logger"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "redpacket",
		Usage: "红包活动引擎",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				EnvVars: []string{"REDPACKET_CONFIG"},
				Usage:   "配置文件路径",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "启动前加载的环境变量文件，不存在时忽略",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			settleCommand(),
			preloadCommand(),
			evictCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.L().WithError(err).Fatal("命令执行失败")
	}
}
