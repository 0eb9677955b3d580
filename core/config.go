package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		DebugHost       string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		CORSOrigins     []string
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | inmem
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	OpenAIConfig struct {
		APIKey  string
		BaseURL string
		Model   string
		Timeout time.Duration
	}

	NudgeConfig struct {
		TemplatesPath string // JSON fallback templates; the embedded set is used when empty
		Workers       int    // batch risk recompute
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		DefaultFromEmail mail.Address
		FrontendBaseURL  string
		RollbarToken     string
		SendgridAPIKey   string

		Server   ServerConfig
		Database DatabaseConfig
		OpenAI   OpenAIConfig
		Nudge    NudgeConfig
	}
)

func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// UsesInMemory reports whether data lives in process memory only.
func (c DatabaseConfig) UsesInMemory() bool {
	return c.Engine == "inmem"
}

// NewConfig reads the configuration from the environment.
// ENV selects the environment (DEV by default); variables are looked up with
// that prefix, e.g. PROD_DATABASE_HOST. A config/.env.<env> file is loaded first when present.
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	loadDotEnv(env)

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, env)

	return &Config{
		AppName:  v.GetString("app.name"),
		Env:      env,
		Build:    v.GetString("app.build"),
		Debug:    v.GetBool("app.debug"),
		TestMode: v.GetBool("app.testmode"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("app.name"),
			Address: v.GetString("email.from"),
		},
		FrontendBaseURL: v.GetString("app.frontend_url"),
		RollbarToken:    v.GetString("rollbar.token"),
		SendgridAPIKey:  v.GetString("sendgrid.api_key"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debug_host"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			CORSOrigins:     splitList(v.GetString("server.cors_origins")),
			DisableReqLogs:  v.GetBool("server.disable_req_logs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.admin_user"),
			AdminPassword: v.GetString("database.admin_password"),
			DisableTLS:    v.GetBool("database.disable_tls"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			BaseURL: v.GetString("openai.base_url"),
			Model:   v.GetString("openai.model"),
			Timeout: v.GetDuration("openai.timeout"),
		},
		Nudge: NudgeConfig{
			TemplatesPath: v.GetString("nudge.templates_path"),
			Workers:       v.GetInt("nudge.workers"),
		},
	}
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("app.name", "Learner Engagement Platform")
	v.SetDefault("app.build", "develop")
	v.SetDefault("app.debug", env == "DEV")
	v.SetDefault("app.testmode", env == "TEST")
	v.SetDefault("app.frontend_url", "http://localhost:8501")
	v.SetDefault("email.from", "noreply@localhost")
	v.SetDefault("rollbar.token", "")
	v.SetDefault("sendgrid.api_key", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debug_host", ":4000")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.cors_origins", "http://localhost:3000,http://localhost:8501,http://127.0.0.1:8501")
	v.SetDefault("server.disable_req_logs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "engage")
	v.SetDefault("database.user", "engage")
	v.SetDefault("database.password", "")
	v.SetDefault("database.admin_user", "postgres")
	v.SetDefault("database.admin_password", "")
	v.SetDefault("database.disable_tls", env == "DEV" || env == "TEST")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.timeout", 8*time.Second)

	v.SetDefault("nudge.templates_path", "")
	v.SetDefault("nudge.workers", 0)
}

// loadDotEnv loads config/.env.<env> if it exists (ignored if it does not).
// CONFIG_DIR overrides the directory.
func loadDotEnv(env string) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}
	dotEnvPath := filepath.Join(dir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
