package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/one-account/one-account-api/internal/api"
	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/db"
	"github.com/one-account/one-account-api/internal/db/models"
)

// consoleUsers is the account access the console needs
type consoleUsers interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

type policyWriter interface {
	SetMfaConfig(ctx context.Context, policy models.MfaPolicy) (models.MfaPolicy, error)
}

type unEnroller interface {
	UnEnrollUser(ctx context.Context, user *models.User, method models.VerificationMethod) error
}

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type keyCreator interface {
	Create(ctx context.Context, in auth.CreateAPIKeyInput) (*models.APIKey, string, error)
}

// consoleEnv is what a console command may touch
type consoleEnv struct {
	out        io.Writer
	users      consoleUsers
	policy     policyWriter
	methods    []models.VerificationMethod
	pipeline   unEnroller
	attempts   expiredDeleter
	keys       keyCreator
	bcryptCost int
	now        func() time.Time
}

type consoleCommand struct {
	usage string
	run   func(ctx context.Context, env *consoleEnv, args []string) error
}

var consoleCommands = map[string]consoleCommand{
	"mfa:setup": {
		usage: "mfa:setup --enabled --allow-api-management --steps email_channel,google_authenticator",
		run:   mfaSetup,
	},
	"mfa:un-enroll": {
		usage: "mfa:un-enroll --email user@example.com --method google_authenticator",
		run:   mfaUnEnroll,
	},
	"mfa:prune-expired-attempts": {
		usage: "mfa:prune-expired-attempts",
		run:   mfaPruneExpiredAttempts,
	},
	"api-key:create": {
		usage: "api-key:create --email user@example.com --name ci [--description text] [--expires-in-days 90] [--permissions a,b]",
		run:   apiKeyCreate,
	},
	"user:create": {
		usage: "user:create --name Jane --email jane@example.com --password secret123 [--permissions a,b]",
		run:   userCreate,
	},
}

func consoleCommandNames() string {
	names := make([]string, 0, len(consoleCommands))
	for name := range consoleCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// runConsole connects to the database, wires the services and runs cmd
func runConsole(cfg *config.Config, cmd consoleCommand, args []string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	svc, err := api.NewServices(cfg, database)
	if err != nil {
		return err
	}
	defer svc.Close()

	env := &consoleEnv{
		out:        os.Stdout,
		users:      svc.Users,
		policy:     svc.Settings,
		methods:    svc.Registry.Methods(),
		pipeline:   svc.MFA,
		attempts:   svc.Attempts,
		keys:       svc.APIKeys,
		bcryptCost: cfg.Auth.BcryptCost,
		now:        time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := cmd.run(ctx, env, args); err != nil {
		return fmt.Errorf("%w\nusage: %s", err, cmd.usage)
	}
	return nil
}

// splitList parses a comma separated flag value, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (env *consoleEnv) findUser(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("--email is required")
	}
	user, err := env.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	return user, nil
}

func mfaSetup(ctx context.Context, env *consoleEnv, args []string) error {
	fs := newFlagSet("mfa:setup", env.out)
	enabled := fs.Bool("enabled", false, "require MFA at login")
	allowAPI := fs.Bool("allow-api-management", false, "allow POST /app-settings to change the MFA policy")
	steps := fs.String("steps", "", "ordered, comma separated verification methods")
	if err := fs.Parse(args); err != nil {
		return err
	}

	policy := models.MfaPolicy{
		Enabled:            *enabled,
		Steps:              []models.VerificationMethod{},
		AllowAPIManagement: *allowAPI,
	}
	for _, s := range splitList(*steps) {
		policy.Steps = append(policy.Steps, models.VerificationMethod(s))
	}

	saved, err := env.policy.SetMfaConfig(ctx, policy)
	if err != nil {
		return fmt.Errorf("failed to save MFA policy: %w", err)
	}
	return printPolicy(env.out, saved, env.methods)
}

// printPolicy renders the stored policy next to the registered methods
func printPolicy(w io.Writer, policy models.MfaPolicy, registered []models.VerificationMethod) error {
	steps := make([]string, len(policy.Steps))
	for i, s := range policy.Steps {
		steps[i] = string(s)
	}
	available := make([]string, len(registered))
	for i, m := range registered {
		available[i] = string(m)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Setting", "Value")
	rows := [][]string{
		{"enabled", fmt.Sprintf("%t", policy.Enabled)},
		{"allow_api_management", fmt.Sprintf("%t", policy.AllowAPIManagement)},
		{"steps", strings.Join(steps, " -> ")},
		{"registered methods", strings.Join(available, ", ")},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func mfaUnEnroll(ctx context.Context, env *consoleEnv, args []string) error {
	fs := newFlagSet("mfa:un-enroll", env.out)
	email := fs.String("email", "", "account email")
	method := fs.String("method", "", "verification method")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *method == "" {
		return errors.New("--method is required")
	}

	user, err := env.findUser(ctx, *email)
	if err != nil {
		return err
	}
	if err := env.pipeline.UnEnrollUser(ctx, user, models.VerificationMethod(*method)); err != nil {
		return fmt.Errorf("failed to un-enroll: %w", err)
	}
	fmt.Fprintf(env.out, "User %s un-enrolled from %s\n", user.Email, *method)
	return nil
}

func mfaPruneExpiredAttempts(ctx context.Context, env *consoleEnv, _ []string) error {
	n, err := env.attempts.DeleteExpired(ctx, env.now())
	if err != nil {
		return fmt.Errorf("failed to prune attempts: %w", err)
	}
	fmt.Fprintf(env.out, "Deleted %d expired MFA attempt(s)\n", n)
	return nil
}

func apiKeyCreate(ctx context.Context, env *consoleEnv, args []string) error {
	fs := newFlagSet("api-key:create", env.out)
	email := fs.String("email", "", "owner email")
	name := fs.String("name", "", "key name")
	description := fs.String("description", "", "optional description")
	days := fs.Int("expires-in-days", 0, "days until expiry; 0 never expires")
	permissions := fs.String("permissions", "", "comma separated api key permissions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 0 {
		return errors.New("--expires-in-days must not be negative")
	}

	user, err := env.findUser(ctx, *email)
	if err != nil {
		return err
	}

	in := auth.CreateAPIKeyInput{
		UserID:      user.ID,
		Name:        *name,
		Permissions: splitList(*permissions),
	}
	if in.Permissions == nil {
		in.Permissions = []string{}
	}
	if *description != "" {
		in.Description = description
	}
	if *days > 0 {
		expires := env.now().AddDate(0, 0, *days)
		in.ExpiresAt = &expires
	}

	key, raw, err := env.keys.Create(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "API key %q created for %s (id %s)\n", key.Name, user.Email, key.ID)
	fmt.Fprintf(env.out, "Key: %s\n", raw)
	fmt.Fprintln(env.out, "Store it now; it cannot be shown again.")
	return nil
}

func userCreate(ctx context.Context, env *consoleEnv, args []string) error {
	fs := newFlagSet("user:create", env.out)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "login email")
	password := fs.String("password", "", "login password")
	permissions := fs.String("permissions", "", "comma separated user permissions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	normalized := strings.ToLower(strings.TrimSpace(*email))
	if strings.TrimSpace(*name) == "" || normalized == "" {
		return errors.New("--name and --email are required")
	}
	perms := splitList(*permissions)
	if err := auth.ValidateScopes(perms); err != nil {
		return err
	}

	existing, err := env.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("a user with email %s already exists", normalized)
	}

	hash, err := auth.HashPassword(*password, env.bcryptCost)
	if err != nil {
		return err
	}
	user := &models.User{
		Name:         strings.TrimSpace(*name),
		Email:        normalized,
		PasswordHash: hash,
		IsActive:     true,
		Permissions:  perms,
	}
	if err := env.users.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Fprintf(env.out, "User %s created (id %s)\n", user.Email, user.ID)
	return nil
}
