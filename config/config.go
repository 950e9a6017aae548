package config

import (
	"fmt"
	"os"
)

const (
	serverPortEnv = "SERVER_PORT"
	dbHostEnv     = "DB_HOST"
	dbPortEnv     = "DB_PORT"
	dbUserEnv     = "DB_USER"
	dbNameEnv     = "DB_NAME"
	dbPasswordEnv = "DB_PASSWORD"
	dbSSLModeEnv  = "DB_SSLMODE"

	githubOwnerEnv  = "GITHUB_OWNER"
	githubRepoEnv   = "GITHUB_REPO"
	githubTokenEnv  = "GITHUB_TOKEN"
	mainBranchEnv   = "MAIN_BRANCH"
	branchPrefixEnv = "BRANCH_PREFIX"

	ciWebhookSecretEnv = "CI_WEBHOOK_SECRET"
	ciEnabledEnv       = "CI_ENABLED"

	redisAddrEnv = "REDIS_ADDR"
)

type Config struct {
	ServerPort         string
	DBConnectionString string

	GitHubOwner  string
	GitHubRepo   string
	GitHubToken  string
	MainBranch   string
	BranchPrefix string

	CIWebhookSecret string
	CIEnabled       bool

	RedisAddr string
}

func NewConfig() (Config, error) {
	cfg := Config{
		ServerPort: fmt.Sprintf(":%s", os.Getenv(serverPortEnv)),
		DBConnectionString: fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			os.Getenv(dbUserEnv), os.Getenv(dbPasswordEnv), os.Getenv(dbHostEnv),
			os.Getenv(dbPortEnv), os.Getenv(dbNameEnv), os.Getenv(dbSSLModeEnv)),
		GitHubOwner:     os.Getenv(githubOwnerEnv),
		GitHubRepo:      os.Getenv(githubRepoEnv),
		GitHubToken:     os.Getenv(githubTokenEnv),
		MainBranch:      os.Getenv(mainBranchEnv),
		BranchPrefix:    os.Getenv(branchPrefixEnv),
		CIWebhookSecret: os.Getenv(ciWebhookSecretEnv),
		RedisAddr:       os.Getenv(redisAddrEnv),
	}

	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "staging/"
	}

	// The pipeline gate is opt-in: configuring a webhook secret enables it,
	// and CI_ENABLED=true enables it without signature verification.
	cfg.CIEnabled = cfg.CIWebhookSecret != "" || os.Getenv(ciEnabledEnv) == "true"

	if cfg.GitHubOwner == "" || cfg.GitHubRepo == "" {
		return cfg, fmt.Errorf("%s and %s must be set", githubOwnerEnv, githubRepoEnv)
	}

	return cfg, nil
}
