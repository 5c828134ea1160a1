package main

import (
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
	"hawx.me/code/indieauth-strategy"
)

type config struct {
	Addr        string `yaml:"addr"`
	ClientID    string `yaml:"client_id"`
	RedirectURL string `yaml:"redirect_url"`

	// Secret is a base64 encoded key for signing session cookies.
	Secret string `yaml:"secret"`

	// Allow lists the identities that may sign in. Anyone can when empty.
	Allow []string `yaml:"allow"`

	ResponseType string `yaml:"response_type"`
	Exchange     string `yaml:"exchange"` // scope | token

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"log"`
}

// loadConfig reads the YAML file at path, if given, then applies any
// INDIEAUTH_* environment variables on top.
func loadConfig(path string) (*config, error) {
	var c config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	c.applyEnvOverrides()

	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ClientID == "" {
		c.ClientID = "http://localhost:8080/"
	}
	if c.RedirectURL == "" {
		c.RedirectURL = strings.TrimRight(c.ClientID, "/") + "/callback"
	}
	if c.Exchange == "" {
		c.Exchange = "scope"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Exchange != "scope" && c.Exchange != "token" {
		return nil, errors.New(`exchange must be "scope" or "token"`)
	}

	return &c, nil
}

func (c *config) applyEnvOverrides() {
	if v, ok := getEnvStr("INDIEAUTH_ADDR"); ok {
		c.Addr = v
	}
	if v, ok := getEnvStr("INDIEAUTH_CLIENT_ID"); ok {
		c.ClientID = v
	}
	if v, ok := getEnvStr("INDIEAUTH_REDIRECT_URL"); ok {
		c.RedirectURL = v
	}
	if v, ok := getEnvStr("INDIEAUTH_SECRET"); ok {
		c.Secret = v
	}
	if v, ok := getEnvStr("INDIEAUTH_ALLOW"); ok {
		c.Allow = nil
		for _, me := range strings.Split(v, ",") {
			if me = strings.TrimSpace(me); me != "" {
				c.Allow = append(c.Allow, me)
			}
		}
	}
	if v, ok := getEnvStr("INDIEAUTH_RESPONSE_TYPE"); ok {
		c.ResponseType = v
	}
	if v, ok := getEnvStr("INDIEAUTH_EXCHANGE"); ok {
		c.Exchange = v
	}
	if v, ok := getEnvStr("INDIEAUTH_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("INDIEAUTH_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
}

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (c *config) logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewDevelopmentConfig()
	if c.Log.Format == "json" {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func (c *config) strategyConfig() indieauth.Config {
	exchangeMode := indieauth.ExchangeScope
	if c.Exchange == "token" {
		exchangeMode = indieauth.ExchangeToken
	}

	return indieauth.Config{
		ClientID:     c.ClientID,
		RedirectURL:  c.RedirectURL,
		ResponseType: indieauth.ResponseType(c.ResponseType),
		ExchangeMode: exchangeMode,
	}
}

// allowed reports whether me may sign in.
func (c *config) allowed(me string) bool {
	if len(c.Allow) == 0 {
		return true
	}

	for _, allowed := range c.Allow {
		if strings.TrimRight(allowed, "/") == strings.TrimRight(me, "/") {
			return true
		}
	}

	return false
}
