// Package config loads server and agent settings from struct tag defaults,
// the environment (an optional .env file included) and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/koding/multiconfig"

	"github.com/gsarma/examrunner/internal/job"
)

// Server defines the exam server configuration.
type Server struct {
	// http
	HTTPAddr    string `flagUsage:"specifies the http binding address" default:":3000"`
	MonitorAddr string `flagUsage:"specifies the metrics binding address" default:":3001"`
	AgentKey    string `flagUsage:"shared secret worker agents send as x-agent-key (empty disables the check)"`

	// store
	Store       string `flagUsage:"job store backend: postgres or memory" default:"postgres"`
	DatabaseURL string `flagUsage:"postgres connection string"`
	AutoMigrate bool   `flagUsage:"apply pending migrations on startup" default:"true"`

	// quota
	QuotaCeiling  int           `flagUsage:"execution attempts allowed per student and question" default:"5"`
	QuotaBackend  string        `flagUsage:"quota guard: store (best effort) or redis (atomic)" default:"store"`
	RedisAddr     string        `flagUsage:"redis address for the redis quota backend" default:"localhost:6379"`
	RedisPassword string        `flagUsage:"redis password"`
	RedisDB       int           `flagUsage:"redis database number"`
	RedisKeyTTL   time.Duration `flagUsage:"expiry of quota counters" default:"72h"`

	EnableMetrics bool `flagUsage:"enable prometheus metrics endpoint" default:"true"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`
	Debug   bool `flagUsage:"enable debug logs"`
}

// Load loads config from flag & environment variables prefixed with EXAM_.
func (c *Server) Load(args []string) error {
	if err := loadLayers(c, "EXAM", args); err != nil {
		return err
	}
	return c.validate()
}

func (c *Server) validate() error {
	switch c.Store {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: database url is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.QuotaBackend {
	case "store", "redis":
	default:
		return fmt.Errorf("config: unknown quota backend %q", c.QuotaBackend)
	}
	if c.QuotaCeiling <= 0 {
		return fmt.Errorf("config: quota ceiling must be positive, got %d", c.QuotaCeiling)
	}
	return nil
}

// Agent defines the worker agent configuration.
type Agent struct {
	ServerURL     string `flagUsage:"base url of the exam server" default:"http://localhost:3000"`
	AgentKey      string `flagUsage:"shared secret sent as x-agent-key"`
	ExecutionMode string `flagUsage:"which jobs to claim: server or local" default:"server"`
	FilterUserID  string `flagUsage:"only claim jobs of this student (local mode)"`

	// polling and reporting
	MaxConcurrentJobs int           `flagUsage:"control the # of concurrent executions" default:"4"`
	PollInterval      time.Duration `flagUsage:"delay between polls when idle" default:"2s"`
	MaxBackoff        time.Duration `flagUsage:"upper bound of the poll backoff after errors" default:"30s"`
	ReportAttempts    int           `flagUsage:"attempts to deliver one result" default:"3"`
	ReportDelay       time.Duration `flagUsage:"delay between report attempts" default:"2s"`

	// execution
	Executor    string        `flagUsage:"execution backend: interpreter or judge0" default:"interpreter"`
	Interpreter string        `flagUsage:"interpreter command, {script} is replaced by the script path" default:"scilab-cli -nb -f {script}"`
	ScriptName  string        `flagUsage:"file name of the materialised script" default:"script.sci"`
	InputName   string        `flagUsage:"file name of the materialised input" default:"input.txt"`
	WorkDir     string        `flagUsage:"scratch directory for job workspaces"`
	Timeout     time.Duration `flagUsage:"wall clock limit per execution" default:"30s"`
	OutputLimit int           `flagUsage:"bytes of output kept per execution" default:"65536"`
	ImageExts   []string      `flagUsage:"extensions of generated images to return" default:".png"`

	Judge0URL        string `flagUsage:"judge0 base url" default:"http://localhost:2358"`
	Judge0Token      string `flagUsage:"judge0 X-Auth-Token"`
	Judge0LanguageID int    `flagUsage:"judge0 language id" default:"66"`

	MonitorAddr string `flagUsage:"specifies the metrics binding address (empty disables)" default:":3002"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`
	Debug   bool `flagUsage:"enable debug logs"`
}

// Load loads config from flag & environment variables prefixed with AGENT_.
func (c *Agent) Load(args []string) error {
	if err := loadLayers(c, "AGENT", args); err != nil {
		return err
	}
	return c.validate()
}

func (c *Agent) validate() error {
	if _, err := job.ParseMode(c.ExecutionMode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Executor {
	case "interpreter", "judge0":
	default:
		return fmt.Errorf("config: unknown executor %q", c.Executor)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("config: max concurrent jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.ReportAttempts <= 0 {
		return fmt.Errorf("config: report attempts must be positive, got %d", c.ReportAttempts)
	}
	return nil
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func loadLayers(c any, prefix string, args []string) error {
	if args == nil {
		args = []string{}
	}
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    prefix,
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: prefix,
			Args:      args,
		},
	)
	if os.Getpid() == 1 {
		if s, ok := c.(interface{ setRelease() }); ok {
			s.setRelease()
		}
	}
	return cl.Load(c)
}

func (c *Server) setRelease() { c.Release = true }
func (c *Agent) setRelease()  { c.Release = true }
