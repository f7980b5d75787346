package config

import (
	"io/fs"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tableserve/internal/domain"
)

type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

type Server struct {
	Port        int           `yaml:"port"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type TableDef struct {
	Name     string `yaml:"name"`
	Space    string `yaml:"space"`
	Capacity int    `yaml:"capacity"`
}

type MenuDef struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Price    float64 `yaml:"price"`
	Category string  `yaml:"category"`
}

type SettingDef struct {
	Name string             `yaml:"name"`
	Kind domain.SettingKind `yaml:"kind"`
	Rate float64            `yaml:"rate"`
	Unit domain.SettingUnit `yaml:"unit"`
}

// App is the whole config file. Tables/Menu/Settings seed the in-memory
// catalog and table registry when no database is configured, which keeps a
// single-node deployment self-contained.
type App struct {
	Server   Server       `yaml:"server"`
	Database Database     `yaml:"database"`
	Rabbit   RabbitMQ     `yaml:"rabbitmq"`
	Tables   []TableDef   `yaml:"tables"`
	Menu     []MenuDef    `yaml:"menu"`
	Settings []SettingDef `yaml:"settings"`
}

func Load(path string) (App, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, errors.Wrap(err, "read config")
	}
	a := defaults()
	if err := yaml.Unmarshal(b, &a); err != nil {
		return App{}, errors.Wrap(err, "parse config")
	}
	// TABLESERVE_* environment variables win over the file.
	if err := envconfig.Process("tableserve", &a); err != nil {
		return App{}, errors.Wrap(err, "env overrides")
	}
	if err := a.validate(); err != nil {
		return App{}, err
	}
	return a, nil
}

func defaults() App {
	return App{
		Server:   Server{Port: 3000, LockTimeout: 2 * time.Second},
		Database: Database{Port: 5432, SSLMode: "disable"},
		Rabbit:   RabbitMQ{Port: 5672, VHost: "/"},
	}
}

func (a App) validate() error {
	if a.Server.Port <= 0 {
		return errors.New("invalid config: server port")
	}
	if a.Database.Host != "" && (a.Database.User == "" || a.Database.Database == "") {
		return errors.New("invalid config: database host set but user/database missing")
	}
	if a.Rabbit.Host != "" && a.Rabbit.User == "" {
		return errors.New("invalid config: rabbitmq host set but user missing")
	}
	return nil
}

// UsesDatabase and UsesRabbit gate the optional infrastructure: with neither
// configured the engine runs fully in memory.
func (a App) UsesDatabase() bool { return a.Database.Host != "" }
func (a App) UsesRabbit() bool   { return a.Rabbit.Host != "" }

func Find() (string, error) {
	for _, p := range []string{"config.yaml", "deploy/config.example.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
