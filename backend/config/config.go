package config

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Collab struct {
		// 心跳键过期时间，秒
		HeartbeatTTLSeconds int `mapstructure:"heartbeat_ttl_seconds"`
		// 单实例同时处理的提交上限
		MaxConcurrentSubmits int `mapstructure:"max_concurrent_submits"`
	} `mapstructure:"collab"`
}
