package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"redpacket/internal/config"
	"redpacket/internal/infrastructure/cache"
	"redpacket/internal/infrastructure/database"
	"redpacket/internal/infrastructure/ratelimit"
	"redpacket/internal/service"
	"redpacket/pkg/idgen"
	"redpacket/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

// deps 各命令共用的依赖
type deps struct {
	cfg   *config.Config
	db    *gorm.DB
	redis *redis.Client
	pool  *cache.PacketPool

	activities *service.ActivityService
	grab       *service.GrabService
	accounts   *service.AccountService
	settlement *service.SettlementService
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := godotenv.Load(c.String("env-file")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("加载环境变量文件失败: %w", err)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if err := idgen.Init(cfg.Server.NodeID); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bootstrap(c *cli.Context) (*deps, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		return nil, err
	}

	rdb, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, err
	}

	d := &deps{
		cfg:   cfg,
		db:    db,
		redis: rdb,
		pool:  cache.NewPacketPool(rdb),
	}

	var admission service.Admission
	if cfg.RedPacket.RateLimit.Enabled {
		admission = ratelimit.NewGrabLimiter(ratelimit.NewLimiter(rdb), cfg.RedPacket.RateLimit)
	}

	d.activities = service.NewActivityService(db, d.pool, cfg)
	d.grab = service.NewGrabService(db, d.pool, admission, cfg)
	d.accounts = service.NewAccountService(db)
	d.settlement = service.NewSettlementService(db, d.accounts, cfg)
	return d, nil
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func activityIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("需要一个活动ID参数")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("活动ID参数错误: %q", c.Args().First())
	}
	return id, nil
}
