// Command turfctl administers a turfboard installation: it imports logins,
// seeds organizations and memberships, mints identity tokens and runs an
// interactive edit loop against the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"turfboard.app/internal/access"
	"turfboard.app/internal/auth"
	"turfboard.app/internal/board"
	"turfboard.app/internal/config"
	"turfboard.app/internal/editor"
	"turfboard.app/internal/remote"
	"turfboard.app/internal/store/pg"
	"turfboard.app/internal/turf"
)

const usage = `usage: turfctl <command> [flags]

commands:
  import  <file.json>                 import logins through the API
  grant   -email E -org ID -role R    upsert a membership (Postgres)
  org     -name N [-company C] [-assign slug,...]
                                      ensure an organization and attach logins (Postgres)
  edit                                read "slug on off" lines and save them through the API
  token   -email E [-ttl 24h]         mint a bearer token for E`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AuthSecret != "" {
		auth.SetSecret(cfg.AuthSecret)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "import":
		err = runImport(ctx, cfg, args)
	case "grant":
		err = runGrant(ctx, cfg, args)
	case "org":
		err = runOrg(ctx, cfg, args)
	case "edit":
		err = runEdit(ctx, cfg, args)
	case "token":
		err = runToken(args)
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func apiClient(cfg config.Config, fs *flag.FlagSet, args []string) (*remote.Client, error) {
	baseURL := fs.String("api", cfg.APIBaseURL, "API base URL")
	email := fs.String("email", "", "caller email sent as X-User-Email")
	token := fs.String("token", "", "bearer token (overrides -email)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return remote.New(*baseURL, remote.WithEmail(*email), remote.WithToken(*token))
}

// readImportFile accepts a bare array of items or {"logins": [...]}.
func readImportFile(path string) ([]turf.ImportItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []turf.ImportItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Logins []turf.ImportItem `json:"logins"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return wrapped.Logins, nil
}

func runImport(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	client, err := apiClient(cfg, fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one file argument")
	}
	items, err := readImportFile(fs.Arg(0))
	if err != nil {
		return err
	}
	sum, err := client.Import(ctx, items)
	if err != nil {
		return err
	}
	fmt.Println(sum.Message)
	for _, r := range sum.Results {
		fmt.Printf("  %-8s %s (%s)\n", r.Status, r.DisplayName, r.Slug)
	}
	return nil
}

func openStore(cfg config.Config) (*pg.Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("TURF_PG_DSN is required")
	}
	return pg.Open(cfg.PostgresDSN)
}

func runGrant(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	email := fs.String("email", "", "user email")
	org := fs.String("org", "", "organization id")
	roleName := fs.String("role", "viewer", "viewer, vendor or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	role, err := access.ParseRole(*roleName)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return grantMembership(ctx, os.Stdout, store, store, *email, *org, role)
}

// grantMembership goes through board.Service so the CLI gets the same
// organization check and audit line as the HTTP API.
func grantMembership(ctx context.Context, w io.Writer, rows turf.Store, members access.MembershipStore, email, org string, role access.Role) error {
	ev, err := access.NewEvaluator(members)
	if err != nil {
		return err
	}
	svc, err := board.New(rows, ev)
	if err != nil {
		return err
	}
	m, err := svc.Grant(ctx, email, org, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s is %s in %s (%s)\n", m.UserEmail, m.Role, m.OrganizationName, m.OrganizationID)
	return nil
}

func runOrg(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("org", flag.ExitOnError)
	name := fs.String("name", "", "organization name")
	company := fs.String("company", "", "company name")
	var assign slugList
	fs.Var(&assign, "assign", "comma separated login slugs to attach")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	org, err := store.EnsureOrganization(ctx, *name, *company)
	if err != nil {
		return err
	}
	fmt.Printf("organization %s (%s)\n", org.Name, org.ID)
	for _, slug := range assign {
		if err := store.AssignOrganization(ctx, slug, org.ID); err != nil {
			return fmt.Errorf("assign %s: %w", slug, err)
		}
		fmt.Printf("  attached %s\n", slug)
	}
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	email := fs.String("email", "", "subject email")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := auth.GenerateToken(*email, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runEdit(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	org := fs.String("organization", "", "only load rows of this organization")
	debounce := fs.Duration("debounce", editor.DefaultDebounce, "quiet period before a save")
	client, err := apiClient(cfg, fs, args)
	if err != nil {
		return err
	}
	rows, err := client.List(ctx, *org)
	if err != nil {
		return err
	}
	co, err := editor.NewCoordinator(client,
		editor.WithDebounce(*debounce),
		editor.WithContext(ctx),
		editor.WithNotifier(editor.NotifierFunc(func(n editor.Notice) {
			fmt.Fprintf(os.Stderr, "%s: %s (%v)\n", n.Slug, n.Message, n.Err)
		})),
	)
	if err != nil {
		return err
	}
	defer co.Close()
	co.Load(rows)

	return editLoop(ctx, co, os.Stdin, os.Stdout)
}
