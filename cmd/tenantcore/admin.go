package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/opencampus/tenantcore/internal/adapter/postgres"
	"github.com/opencampus/tenantcore/internal/adapter/ristretto"
	"github.com/opencampus/tenantcore/internal/config"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/domain/user"
	"github.com/opencampus/tenantcore/internal/logger"
	"github.com/opencampus/tenantcore/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-tenant":
		return runAdminCreateTenant(args[1:])
	case "list-tenants":
		return runAdminListTenants(args[1:])
	case "create-user":
		return runAdminCreateUser(args[1:])
	case "grant":
		return runAdminGrant(args[1:])
	case "migrate-status":
		return runAdminMigrateStatus(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: tenantcore admin <command> [options]

Commands:
  create-tenant    Provision a tenant and its schema partition
  list-tenants     List all tenants
  create-user      Create a global user
  grant            Add a user to a tenant with a role
  migrate-status   Show the applied migration version
  help             Show this help message

Examples:
  tenantcore admin create-tenant --name "Acme University" --slug acme-u
  tenantcore admin create-user --email admin@acme.test --first Ada --last Admin
  tenantcore admin grant --user <id> --tenant <id> --role admin
  tenantcore admin list-tenants
`)
}

// adminDeps bundles the services the CLI subcommands use. The sync fan-out is
// left unwired; there is no worker in a CLI process.
type adminDeps struct {
	cfg         *config.Config
	tenants     *service.TenantService
	users       *service.UserService
	memberships *service.MembershipService
	cleanup     func()
}

func loadAdminDeps() (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	memberCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}

	store := postgres.NewStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	gate := postgres.NewGate(pool)
	recorder := service.NewAuditRecorder(auditStore, nil, nil)
	gate.SetAuditHook(recorder.GateEvent)

	deps := &adminDeps{
		cfg:         cfg,
		tenants:     service.NewTenantService(store, gate, recorder),
		users:       service.NewUserService(store, recorder, nil, cfg.Auth.BcryptCost),
		memberships: service.NewMembershipService(store, memberCache, recorder, cfg.Cache.MembershipTTL),
		cleanup: func() {
			memberCache.Close()
			pool.Close()
		},
	}
	return deps, nil
}

// adminCtx attributes CLI actions to a stable operator identity in the audit
// trail.
func adminCtx() context.Context {
	return logger.WithActor(context.Background(), "cli:admin")
}

func runAdminCreateTenant(args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	name := fs.String("name", "", "tenant display name (required)")
	slug := fs.String("slug", "", "tenant slug, lowercase (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *slug == "" {
		return fmt.Errorf("--name and --slug are required")
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	t, err := deps.tenants.Provision(adminCtx(), tenant.CreateRequest{Name: *name, Slug: *slug})
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Tenant created: %s (id=%s, schema=%s, status=%s)\n", t.Slug, t.ID, t.SchemaName, t.Status)
	return nil
}

func runAdminListTenants(args []string) error {
	fs := flag.NewFlagSet("list-tenants", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	tenants, err := deps.tenants.List(adminCtx())
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSLUG\tNAME\tSCHEMA\tSTATUS")
	for i := range tenants {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			tenants[i].ID, tenants[i].Slug, tenants[i].Name, tenants[i].SchemaName, tenants[i].Status)
	}
	return w.Flush()
}

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	email := fs.String("email", "", "user email address (required)")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	u, err := deps.users.Register(adminCtx(), user.CreateRequest{
		Email:     *email,
		FirstName: *first,
		LastName:  *last,
		Password:  pass,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(os.Stderr, "User created: %s (id=%s)\n", u.Email, u.ID)
	return nil
}

func runAdminGrant(args []string) error {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	tenantID := fs.String("tenant", "", "tenant id (required)")
	role := fs.String("role", string(membership.RoleStudent), "role within the tenant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *tenantID == "" {
		return fmt.Errorf("--user and --tenant are required")
	}

	deps, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer deps.cleanup()

	m, err := deps.memberships.AddToTenant(adminCtx(), membership.AddRequest{
		UserID:   *userID,
		TenantID: *tenantID,
		Role:     membership.Role(*role),
	})
	if err != nil {
		return fmt.Errorf("grant membership: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Membership: user=%s tenant=%s role=%s status=%s\n", m.UserID, m.TenantID, m.Role, m.Status)
	return nil
}

func runAdminMigrateStatus(args []string) error {
	fs := flag.NewFlagSet("migrate-status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	version, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}

	fmt.Printf("Migration version: %d\n", version)
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
