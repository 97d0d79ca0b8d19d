package app

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type envVars struct {
	Environment string `split_words:"true"`

	ServerHost string `required:"true" split_words:"true"`
	ServerPort int    `required:"true" split_words:"true"`

	DataDir string `required:"true" split_words:"true"`
}

func mustLoadEnv() envVars {
	var env envVars

	// A missing .env is fine in prod; env vars alone carry the config.
	_ = godotenv.Load()

	envconfig.MustProcess("PAGEDB", &env)

	if env.Environment != "" && env.Environment != EnvDev &&
		env.Environment != EnvProd {
		panic("invalid environment")
	} else if env.Environment == "" {
		env.Environment = EnvDev
	}

	return env
}
