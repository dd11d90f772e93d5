package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/tenantcatalog/internal/repository"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/auth"
	"github.com/aryan0dhankhar/tenantcatalog/internal/service"
	"github.com/aryan0dhankhar/tenantcatalog/pkg/config"
	"github.com/aryan0dhankhar/tenantcatalog/pkg/database"
)

type commandSet map[string]func(ctx context.Context, a *app, args []string) error

func (c commandSet) names() string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return strings.Join(out, "|")
}

// app holds the services a command runs against.
type app struct {
	cfg      *config.Config
	tenants  *service.TenantService
	products *service.ProductService
	users    *service.UserService
	tokens   *auth.TokenManager
	pool     *database.ConnectionPool
	out      io.Writer
	closers  []func() error
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var handlers commandSet
	switch command {
	case "tenant":
		handlers = tenantCommands
	case "product":
		handlers = productCommands
	case "user":
		handlers = userCommands
	case "token":
		handlers = tokenCommands
	case "migrate":
		handlers = commandSet{"apply": migrate}
		args = append([]string{"apply"}, args...)
	case "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: catalogctl %s <%s>\n", command, handlers.names())
		os.Exit(1)
	}
	run, ok := handlers[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown %s command: %s\n", command, args[0])
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	err = run(ctx, a, args[1:])
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// open connects to Postgres and, when configured, Redis. Logs go to stderr
// at warn level so they do not mix with command output.
func open(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(os.Stderr, "warn", cfg.LogFormat)

	pool, err := database.NewConnectionPool(ctx, &database.Config{
		URL:             cfg.DatabaseURL,
		ConnectAttempts: 1,
	}, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, pool: pool, out: os.Stdout, closers: []func() error{pool.Close}}

	clock := clockwork.NewRealClock()
	auditLogger := audit.NewLogger(log)
	guard := security.NewTenantGuard(log, auditLogger)
	a.tokens, err = auth.NewTokenManager(cfg.JWTSecret, "tenantcatalog", clock)
	if err != nil {
		a.close()
		return nil, err
	}

	db := pool.GetDB()
	tenantRepo := repository.NewPostgresTenantRepository(db, log)
	var index domain.TenantDomainIndex
	if os.Getenv("CATALOG_USE_REDIS") != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		index = repository.NewRedisDomainIndex(client, log)
	}
	a.tenants = service.NewTenantService(tenantRepo, index, guard, log, clock, cfg.DomainIndexTimeout)
	a.products = service.NewProductService(repository.NewPostgresProductRepository(db, log), tenantRepo, guard, log, clock)
	a.users = service.NewUserService(repository.NewPostgresUserRepository(db, log), tenantRepo, guard, auditLogger, log, clock, service.PasswordPolicy{
		MinLength:  cfg.PasswordMinLength,
		BcryptCost: cfg.BcryptCost,
	})
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

// as attaches the caller named by -token or CATALOG_TOKEN. Without a token
// commands run as the system administrator.
func (a *app) as(ctx context.Context, token string) (context.Context, error) {
	if token == "" {
		token = os.Getenv("CATALOG_TOKEN")
	}
	if token == "" {
		return security.WithCaller(ctx, security.System()), nil
	}
	claims, err := a.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return security.WithCaller(ctx, claims.Caller()), nil
}

// newFlagSet returns a flag set carrying the shared -token flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	token := fs.String("token", "", "bearer token to act as (default $CATALOG_TOKEN, else system)")
	return fs, token
}

func migrate(ctx context.Context, a *app, _ []string) error {
	if err := a.pool.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

func printUsage() {
	fmt.Print(`catalogctl - multi-tenant catalog administration

Usage:
  catalogctl <command> <subcommand> [flags]

Commands:
  tenant   create|get|list|activate|deactivate|domain|subdomain|resolve|delete|restore|sweep
  product  create|get|list|stock|price|delete|restore
  user     register|list|lock|unlock|move|delete|restore
  token    issue
  migrate  apply pending database migrations

Environment:
  DATABASE_URL, JWT_SECRET   required
  CATALOG_TOKEN              token to act as when -token is not given
  CATALOG_USE_REDIS          set to maintain the Redis domain index
`)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
