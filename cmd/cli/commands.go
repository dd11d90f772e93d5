package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/service"
)

var errMissingFlags = errors.New("missing required flags")

func unwrap[T any](r result.Result[T]) (T, error) {
	if r.IsFailure() {
		var zero T
		return zero, r.Err()
	}
	return r.MustValue(), nil
}

func required(values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return errMissingFlags
		}
	}
	return nil
}

func (a *app) table(header string, rows func(w *tabwriter.Writer)) {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header)
	rows(w)
	w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// Tenant commands

var tenantCommands = commandSet{
	"create":     createTenant,
	"get":        getTenant,
	"list":       listTenants,
	"activate":   tenantByID("activate", (*service.TenantService).Activate),
	"delete":     deleteTenant,
	"restore":    tenantByID("restore", (*service.TenantService).Restore),
	"deactivate": deactivateTenant,
	"domain":     setTenantHost("domain", (*service.TenantService).SetCustomDomain),
	"subdomain":  setTenantHost("subdomain", (*service.TenantService).SetSubdomain),
	"resolve":    resolveHost,
	"sweep":      sweepTenants,
}

func (a *app) printTenants(tenants ...*domain.Tenant) {
	a.table("ID\tNAME\tACTIVE\tPLAN\tEXPIRES\tDOMAIN\tSUBDOMAIN\tSTORAGE", func(w *tabwriter.Writer) {
		for _, t := range tenants {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\t%.1f%%\n",
				t.ID(), t.Name(), t.IsActive(), t.Plan(), formatTime(t.PlanExpiresAt()),
				t.CustomDomain(), t.Subdomain(), t.StorageUsagePercent())
		}
	})
}

func createTenant(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("tenant create")
	id := fs.String("id", "", "tenant id")
	name := fs.String("name", "", "tenant name")
	display := fs.String("display", "", "display name")
	plan := fs.String("plan", "", "subscription plan")
	expires := fs.String("expires-in", "", "subscription length, e.g. 720h")
	maxUsers := fs.Int("max-users", 0, "user limit (0 keeps the default)")
	quota := fs.Int64("quota", 0, "storage quota in bytes (0 keeps the default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id, *name); err != nil {
		fs.PrintDefaults()
		return err
	}
	ttl, err := parseDuration(*expires)
	if err != nil {
		return err
	}
	ctx, err = a.as(ctx, *token)
	if err != nil {
		return err
	}

	in := service.CreateTenantInput{
		ID:                *id,
		Name:              *name,
		DisplayName:       *display,
		Plan:              *plan,
		MaxUsers:          *maxUsers,
		StorageQuotaBytes: *quota,
	}
	if ttl > 0 {
		at := time.Now().Add(ttl)
		in.ExpiresAt = &at
	}
	t, err := unwrap(a.tenants.Create(ctx, in))
	if err != nil {
		return err
	}
	a.printTenants(t)
	return nil
}

func getTenant(ctx context.Context, a *app, args []string) error {
	return tenantByID("get", (*service.TenantService).Get)(ctx, a, args)
}

// tenantByID builds a command that runs op on the tenant named by -id.
func tenantByID(name string, op func(*service.TenantService, context.Context, string) result.Result[*domain.Tenant]) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		fs, token := newFlagSet("tenant " + name)
		id := fs.String("id", "", "tenant id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(*id); err != nil {
			fs.PrintDefaults()
			return err
		}
		ctx, err := a.as(ctx, *token)
		if err != nil {
			return err
		}
		t, err := unwrap(op(a.tenants, ctx, *id))
		if err != nil {
			return err
		}
		a.printTenants(t)
		return nil
	}
}

func listTenants(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("tenant list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	tenants, err := unwrap(a.tenants.ListActive(ctx))
	if err != nil {
		return err
	}
	a.printTenants(tenants...)
	return nil
}

func deactivateTenant(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("tenant deactivate")
	id := fs.String("id", "", "tenant id")
	reason := fs.String("reason", "", "reason recorded with the deactivation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	t, err := unwrap(a.tenants.Deactivate(ctx, *id, *reason))
	if err != nil {
		return err
	}
	a.printTenants(t)
	return nil
}

func deleteTenant(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("tenant delete")
	id := fs.String("id", "", "tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	if _, err := unwrap(a.tenants.Delete(ctx, *id)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "tenant %s deleted\n", *id)
	return nil
}

func setTenantHost(name string, op func(*service.TenantService, context.Context, string, string) result.Result[*domain.Tenant]) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		fs, token := newFlagSet("tenant " + name)
		id := fs.String("id", "", "tenant id")
		host := fs.String("host", "", "host to assign; empty clears it")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(*id); err != nil {
			fs.PrintDefaults()
			return err
		}
		ctx, err := a.as(ctx, *token)
		if err != nil {
			return err
		}
		t, err := unwrap(op(a.tenants, ctx, *id, *host))
		if err != nil {
			return err
		}
		a.printTenants(t)
		return nil
	}
}

func resolveHost(ctx context.Context, a *app, args []string) error {
	fs, _ := newFlagSet("tenant resolve")
	host := fs.String("host", "", "custom domain or subdomain label")
	sub := fs.Bool("subdomain", false, "treat host as a subdomain label")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*host); err != nil {
		fs.PrintDefaults()
		return err
	}
	kind := domain.DomainKindCustom
	if *sub {
		kind = domain.DomainKindSubdomain
	}
	id, err := unwrap(a.tenants.ResolveHost(ctx, kind, *host))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func sweepTenants(ctx context.Context, a *app, _ []string) error {
	n, err := a.tenants.DeactivateExpired(ctx)
	fmt.Fprintf(a.out, "%d tenants deactivated\n", n)
	return err
}

// Product commands

var productCommands = commandSet{
	"create":  createProduct,
	"get":     productByID("get", (*service.ProductService).Get),
	"restore": productByID("restore", (*service.ProductService).Restore),
	"delete":  deleteProduct,
	"list":    listProducts,
	"stock":   adjustStock,
	"price":   updatePrice,
}

func (a *app) printProducts(products ...*domain.Product) {
	a.table("ID\tTENANT\tNAME\tSKU\tPRICE\tSTOCK\tACTIVE", func(w *tabwriter.Writer) {
		for _, p := range products {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\n",
				p.ID(), p.TenantID(), p.Name(), p.SKU(), p.Price().StringFixed(2), p.Stock(), p.IsActive())
		}
	})
}

func createProduct(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("product create")
	tenant := fs.String("tenant", "", "tenant id")
	name := fs.String("name", "", "product name")
	description := fs.String("description", "", "description")
	price := fs.String("price", "", "price, e.g. 19.99")
	sku := fs.String("sku", "", "stock keeping unit")
	category := fs.String("category", "", "category")
	tags := fs.String("tags", "", "comma separated tags")
	stock := fs.Int("stock", 0, "initial stock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*tenant, *name, *price); err != nil {
		fs.PrintDefaults()
		return err
	}
	amount, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	ctx, err = a.as(ctx, *token)
	if err != nil {
		return err
	}

	var tagList []string
	if *tags != "" {
		tagList = strings.Split(*tags, ",")
	}
	p, err := unwrap(a.products.Create(ctx, service.CreateProductInput{
		TenantID:     *tenant,
		Name:         *name,
		Description:  *description,
		Price:        amount,
		SKU:          *sku,
		Category:     *category,
		Tags:         tagList,
		InitialStock: *stock,
	}))
	if err != nil {
		return err
	}
	a.printProducts(p)
	return nil
}

func productByID(name string, op func(*service.ProductService, context.Context, string) result.Result[*domain.Product]) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		fs, token := newFlagSet("product " + name)
		id := fs.String("id", "", "product id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(*id); err != nil {
			fs.PrintDefaults()
			return err
		}
		ctx, err := a.as(ctx, *token)
		if err != nil {
			return err
		}
		p, err := unwrap(op(a.products, ctx, *id))
		if err != nil {
			return err
		}
		a.printProducts(p)
		return nil
	}
}

func deleteProduct(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("product delete")
	id := fs.String("id", "", "product id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	if _, err := unwrap(a.products.Delete(ctx, *id)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "product %s deleted\n", *id)
	return nil
}

func listProducts(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("product list")
	tenant := fs.String("tenant", "", "tenant id")
	query := fs.String("q", "", "search term")
	low := fs.Bool("low", false, "only products at or below their minimum stock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*tenant); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}

	var res result.Result[[]*domain.Product]
	switch {
	case *query != "":
		res = a.products.Search(ctx, *tenant, *query)
	case *low:
		res = a.products.LowStock(ctx, *tenant)
	default:
		res = a.products.ListActive(ctx, *tenant)
	}
	products, err := unwrap(res)
	if err != nil {
		return err
	}
	a.printProducts(products...)
	return nil
}

func adjustStock(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("product stock")
	id := fs.String("id", "", "product id")
	delta := fs.Int("delta", 0, "units to add (positive) or remove (negative)")
	reason := fs.String("reason", "", "reason for the adjustment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	m, err := unwrap(a.products.AdjustStock(ctx, *id, *delta, *reason))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "stock %d -> %d\n", m.Before, m.After)
	return nil
}

func updatePrice(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("product price")
	id := fs.String("id", "", "product id")
	price := fs.String("price", "", "new price")
	discount := fs.String("discount", "", "percentage discount instead of a price")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id); err != nil || (*price == "") == (*discount == "") {
		fs.PrintDefaults()
		return errors.New("need -id and exactly one of -price or -discount")
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}

	var res result.Result[*domain.Product]
	if *discount != "" {
		pct, err := decimal.NewFromString(*discount)
		if err != nil {
			return fmt.Errorf("invalid discount: %w", err)
		}
		res = a.products.ApplyDiscount(ctx, *id, pct)
	} else {
		amount, err := decimal.NewFromString(*price)
		if err != nil {
			return fmt.Errorf("invalid price: %w", err)
		}
		res = a.products.UpdatePrice(ctx, *id, amount)
	}
	p, err := unwrap(res)
	if err != nil {
		return err
	}
	a.printProducts(p)
	return nil
}

// User commands

var userCommands = commandSet{
	"register": registerUser,
	"list":     listUsers,
	"lock":     lockUser,
	"unlock":   userByID("unlock", (*service.UserService).Unlock),
	"restore":  userByID("restore", (*service.UserService).Restore),
	"delete":   deleteUser,
	"move":     moveUser,
}

func (a *app) printUsers(users ...*domain.User) {
	a.table("ID\tTENANT\tEMAIL\tNAME\tACTIVE\tLOCKED\tLAST LOGIN", func(w *tabwriter.Writer) {
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
				u.ID(), u.TenantID(), u.Email(), u.FullName(), u.IsActive(), u.IsLockedOut(), formatTime(u.LastLoginAt()))
		}
	})
}

func registerUser(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("user register")
	tenant := fs.String("tenant", "", "tenant id")
	email := fs.String("email", "", "email address")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	password := fs.String("password", "", "initial password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*tenant, *email, *first, *last, *password); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	u, err := unwrap(a.users.Register(ctx, service.RegisterUserInput{
		TenantID:  *tenant,
		Email:     *email,
		FirstName: *first,
		LastName:  *last,
		Password:  *password,
	}))
	if err != nil {
		return err
	}
	a.printUsers(u)
	return nil
}

func listUsers(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("user list")
	tenant := fs.String("tenant", "", "tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*tenant); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	users, err := unwrap(a.users.List(ctx, *tenant))
	if err != nil {
		return err
	}
	a.printUsers(users...)
	return nil
}

func lockUser(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("user lock")
	id := fs.String("id", "", "user id")
	duration := fs.String("duration", "", "lock length, e.g. 1h; empty locks until unlocked")
	reason := fs.String("reason", "", "reason recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id); err != nil {
		fs.PrintDefaults()
		return err
	}
	d, err := parseDuration(*duration)
	if err != nil {
		return err
	}
	ctx, err = a.as(ctx, *token)
	if err != nil {
		return err
	}
	u, err := unwrap(a.users.Lock(ctx, *id, d, *reason))
	if err != nil {
		return err
	}
	a.printUsers(u)
	return nil
}

func userByID(name string, op func(*service.UserService, context.Context, string) result.Result[*domain.User]) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		fs, token := newFlagSet("user " + name)
		id := fs.String("id", "", "user id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(*id); err != nil {
			fs.PrintDefaults()
			return err
		}
		ctx, err := a.as(ctx, *token)
		if err != nil {
			return err
		}
		u, err := unwrap(op(a.users, ctx, *id))
		if err != nil {
			return err
		}
		a.printUsers(u)
		return nil
	}
}

func deleteUser(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("user delete")
	id := fs.String("id", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	if _, err := unwrap(a.users.Delete(ctx, *id)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %s deleted\n", *id)
	return nil
}

func moveUser(ctx context.Context, a *app, args []string) error {
	fs, token := newFlagSet("user move")
	id := fs.String("id", "", "user id")
	tenant := fs.String("tenant", "", "destination tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(*id, *tenant); err != nil {
		fs.PrintDefaults()
		return err
	}
	ctx, err := a.as(ctx, *token)
	if err != nil {
		return err
	}
	u, err := unwrap(a.users.ChangeTenant(ctx, *id, *tenant))
	if err != nil {
		return err
	}
	a.printUsers(u)
	return nil
}

// Token commands

var tokenCommands = commandSet{
	"issue": issueToken,
}

// issueToken mints a token directly with the signing secret, so it is how
// tenant admins and platform admins obtain elevated tokens.
func issueToken(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("token issue", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant id; empty only for admin")
	user := fs.String("user", "", "user id")
	role := fs.String("role", string(security.RoleUser), "admin, tenant_admin or user")
	email := fs.String("email", "", "email claim")
	ttl := fs.Duration("ttl", a.cfg.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, ok := security.ParseRole(*role)
	if !ok {
		return fmt.Errorf("unknown role %q", *role)
	}
	token, expires, err := a.tokens.GenerateToken(security.Caller{TenantID: *tenant, UserID: *user, Role: r}, *email, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, token)
	fmt.Fprintf(a.out, "expires %s\n", expires.UTC().Format(time.RFC3339))
	return nil
}
