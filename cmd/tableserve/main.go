package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"tableserve/internal/billing"
	"tableserve/internal/bus"
	"tableserve/internal/cart"
	"tableserve/internal/catalog"
	"tableserve/internal/config"
	"tableserve/internal/domain"
	"tableserve/internal/httpapi"
	"tableserve/internal/kitchen"
	"tableserve/internal/logger"
	"tableserve/internal/notify"
	"tableserve/internal/repository"
	"tableserve/internal/tables"
	"tableserve/internal/ticket"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (default: config.yaml)")
	port := flag.Int("port", 0, "override HTTP port")
	flag.Parse()

	lg := logger.New("tableserve")

	path := *cfgPath
	if path == "" {
		var err error
		if path, err = config.Find(); err != nil {
			lg.Fatal("no config file found, pass --config")
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		lg.WithError(err).Fatal("load config")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, lg); err != nil {
		lg.WithError(err).Error("fatal")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, lg *log.Entry) error {
	b := bus.New(lg)

	var (
		cat         catalog.Catalog
		ticketAudit ticket.Audit  = ticket.NoopAudit{}
		billAudit   billing.Audit = billing.NoopAudit{}
		seed        uint64
	)
	if cfg.UsesDatabase() {
		pool, err := repository.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		audit := repository.NewAudit(pool)
		if err := audit.EnsureSchema(ctx); err != nil {
			return err
		}
		if seed, err = audit.MaxTicketNumber(ctx); err != nil {
			return err
		}
		ticketAudit, billAudit = audit, audit
		cat = catalog.NewPG(pool)
		lg.WithFields(log.Fields{"action": "db_connected", "host": cfg.Database.Host}).Info("postgres connected")
	} else {
		mem := catalog.NewMemory()
		for _, m := range cfg.Menu {
			mem.PutItem(domainMenuItem(m))
		}
		for _, s := range cfg.Settings {
			mem.PutSetting(s.Kind, domainSetting(s))
		}
		cat = mem
		lg.Info("running with in-memory catalog")
	}

	reg := tables.NewRegistry(b)
	for _, t := range cfg.Tables {
		reg.Add(domainTable(t))
	}

	carts := cart.NewStore(cat, reg, cfg.Server.LockTimeout)
	tickets := ticket.NewDispatcher(carts, reg, b, ticketAudit, cfg.Server.LockTimeout, lg)
	tickets.Seed(seed)
	tracker := kitchen.NewTracker(tickets, b, lg)
	bills := billing.NewEngine(carts, cat, reg, b, billAudit, lg)

	feeds := notify.NewHub(ctx, b)
	feeds.Feed() // warm the all-tables feed so it sees events from startup

	if cfg.UsesRabbit() {
		relay, err := bus.DialRelay(bus.RelayConfig{
			Host:     cfg.Rabbit.Host,
			Port:     cfg.Rabbit.Port,
			User:     cfg.Rabbit.User,
			Password: cfg.Rabbit.Password,
			VHost:    cfg.Rabbit.VHost,
		}, lg)
		if err != nil {
			return err
		}
		defer relay.Close()
		go relay.Run(ctx, b)
		lg.WithFields(log.Fields{"action": "mq_connected", "host": cfg.Rabbit.Host}).Info("rabbitmq relay up")
	}

	h := httpapi.NewHandlers(carts, tickets, tracker, bills, reg, feeds, lg)
	srv := httpapi.NewServer(":"+strconv.Itoa(cfg.Server.Port), h.Router())
	lg.WithFields(log.Fields{"action": "service_started", "port": cfg.Server.Port}).Info("http listening")
	return srv.Run(ctx)
}

func domainTable(t config.TableDef) domain.Table {
	return domain.Table{Name: t.Name, Space: t.Space, Capacity: t.Capacity, Status: domain.TableAvailable}
}

func domainMenuItem(m config.MenuDef) domain.MenuItem {
	return domain.MenuItem{ID: m.ID, Name: m.Name, Price: m.Price, CategoryID: m.Category}
}

func domainSetting(s config.SettingDef) domain.Setting {
	return domain.Setting{Name: s.Name, Rate: s.Rate, Unit: s.Unit}
}
