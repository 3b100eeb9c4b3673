package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type PondConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir  string `mapstructure:"workdir"`
		DataFile string `mapstructure:"data_file"`
	} `mapstructure:"storage"`

	Buffer struct {
		PoolSize  int `mapstructure:"pool_size"`
		ReplacerK int `mapstructure:"replacer_k"`
	} `mapstructure:"buffer"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func LoadConfig(path string) (*PondConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app_name", "ponddb")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.data_file", "pond.db")
	v.SetDefault("buffer.pool_size", 128)
	v.SetDefault("buffer.replacer_k", 2)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg PondConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
