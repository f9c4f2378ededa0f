package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
	api "tradeflow/cmd/tradeflow"
	"tradeflow/conf"
	"tradeflow/pkg/db"
	"tradeflow/pkg/jwt"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/logger"
)

// 启动服务（监听webhook）

/*
测试

BODY='{"action":"buy","symbol":"DOGE-USDT","cat":"momentum","scat":"1m","recurringMode":"amount","initialAmount":20}'
SECRET="ab12cd34ef56abcdef1234567890abcdef1234567890abcdef1234567890"
SIGNATURE=$(echo -n $BODY | openssl dgst -sha256 -hmac $SECRET | sed 's/^.* //')

curl -X POST http://localhost:12180/webhook \
  -H "Content-Type: application/json" \
  -H "X-Signature: $SIGNATURE" \
  -d "$BODY"

文本格式

curl -X POST http://localhost:12180/webhook -H "X-Signature: $SIGNATURE" --data-binary $'action: sell\ncoin: doge\ncat: momentum\nscat: 1m'

管理接口的 token

go run ./cmd -token ops
*/

func main() {
	configPath := flag.String("config", "conf/config.yaml", "config file")
	operator := flag.String("token", "", "print an admin token for the operator and exit")
	flag.Parse()

	// 加载配置文件
	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyEnv(&conf.AppConfig)
	appCfg := conf.AppConfig

	if *operator != "" {
		token, err := jwt.GenToken(jwt.BuildClaims(appCfg.AppName, *operator, time.Duration(appCfg.Jwt.JwtTtl)*time.Second), appCfg.Jwt.Secret)
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger.InitLogger(&appCfg.Log, appCfg.AppName)
	defer logger.Sync()

	var deps api.Deps
	if appCfg.Db.Host != "" {
		// 初始化数据库
		datasource, err := db.Init(db.Config{
			User:      appCfg.Db.Username,
			Password:  appCfg.Db.Password,
			Host:      appCfg.Db.Host,
			Port:      appCfg.Db.Port,
			DBName:    appCfg.Db.DbName,
			ParseTime: true,
		})
		if err != nil {
			logger.Fatal("init database failed", logger.Pair("err", err.Error()))
		}
		deps.DB = datasource
	}
	if appCfg.Kafka.Broker != "" {
		producer, err := kafka.NewKafkaProducer(appCfg.Kafka.Broker, appCfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("init kafka failed", logger.Pair("err", err.Error()))
		}
		deps.Kafka = producer
	}

	app, err := api.InitApp(&appCfg, deps)
	if err != nil {
		logger.Fatal("init app failed", logger.Pair("err", err.Error()))
	}

	// 创建并启动服务
	srv := api.NewServer(&appCfg)
	srv.RegisterOnShutdown(func() {
		if err := app.Close(); err != nil {
			logger.Errorf("close app: %v", err)
		}
		if deps.DB != nil {
			// 关闭主库链接
			if err := db.Close(); err != nil {
				logger.Errorf("close database: %v", err)
			}
		}
	})
	srv.Run(app.Router)
}

// applyEnv 环境变量优先于配置文件，部署时不把密钥写进配置
func applyEnv(cfg *conf.Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Db.Username, "DB_USER")
	setString(&cfg.Db.Password, "DB_PASSWORD")
	setString(&cfg.Db.Host, "DB_HOST")
	setString(&cfg.Db.Port, "DB_PORT")
	setString(&cfg.Db.DbName, "DB_NAME")

	redisHost, redisPort := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")
	if redisHost != "" && redisPort != "" {
		cfg.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.Okx.ApiKey, "OKX_API_KEY")
	setString(&cfg.Okx.SecretKey, "OKX_SECRET_KEY")
	setString(&cfg.Okx.Password, "OKX_PASSPHRASE")
	setString(&cfg.Webhook.Secret, "WEBHOOK_SECRET")
	setString(&cfg.Jwt.Secret, "JWT_SECRET")
	setString(&cfg.Kafka.Broker, "KAFKA_BROKER")

	if v, err := strconv.ParseBool(os.Getenv("DRY_RUN")); err == nil {
		cfg.Trading.DryRun = v
	}
}
