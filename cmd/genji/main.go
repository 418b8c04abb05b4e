// ABOUTME: Entry point for the genji passkey wallet agent
// ABOUTME: Drives the session orchestrator from the command line

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/w3hc/genji-passkey/internal/config"
	"github.com/w3hc/genji-passkey/internal/debug"
	"github.com/w3hc/genji-passkey/internal/recovery"
	"github.com/w3hc/genji-passkey/internal/registry"
	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/sdk/devsdk"
	"github.com/w3hc/genji-passkey/internal/session"
	"github.com/w3hc/genji-passkey/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the agent config file.
// Priority: GENJI_CONFIG env var > XDG_CONFIG_HOME/genji/agent.yaml > ~/.config/genji/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GENJI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "genji", "agent.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: genji <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init                     Create a default config file")
		fmt.Println("  status                   Show session and backup status")
		fmt.Println("  register <username>      Create an account with a new passkey")
		fmt.Println("  login                    Sign in with the passkey on this device")
		fmt.Println("  logout                   Sign out and clear persistent sessions")
		fmt.Println("  sign <message>           Sign a message with the account key")
		fmt.Println("  address                  Show a derived wallet address")
		fmt.Println("  backup                   Export an encrypted backup file")
		fmt.Println("  restore                  Restore a wallet from a backup file")
		fmt.Println("  guardians <subcommand>   Manage social recovery (setup|invite|recover|clear)")
		fmt.Println("  verify-build             Check the installed build against the on-chain registry")
		fmt.Println("  version                  Print version information")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "status":
		err = runStatus(ctx)
	case "register":
		err = runRegister(ctx)
	case "login":
		err = runLogin(ctx)
	case "logout":
		err = runLogout(ctx)
	case "sign":
		err = runSign(ctx)
	case "address":
		err = runAddress(ctx)
	case "backup":
		err = runBackup(ctx)
	case "restore":
		err = runRestore(ctx)
	case "guardians":
		err = runGuardians(ctx)
	case "verify-build":
		err = runVerifyBuild(ctx)
	case "version":
		fmt.Printf("genji %s (build %s)\n", version, devsdk.BuildHash)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when none
// exists yet.
func loadConfig() *config.Config {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("config load failed, using defaults", "path", path, "error", err)
		}
		return config.Default()
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// agent bundles everything a command needs.
type agent struct {
	cfg   *config.Config
	store *store.SQLiteStore
	orch  *session.Orchestrator
}

func newAgent(ctx context.Context) (*agent, error) {
	cfg := loadConfig()
	setupLogging(cfg)

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if cfg.Session.DurationDays != 0 {
		if err := st.SetSessionDuration(ctx, cfg.Session.DurationDays); err != nil {
			slog.Warn("persisting session duration preference failed", "error", err)
		}
	}

	client, err := devsdk.New(st, devsdk.Options{Prompter: consolePrompter{}})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing SDK: %w", err)
	}

	orch := session.New(client, st, st, consoleNotifier{},
		session.WithRegisterTimeout(cfg.Session.RegisterTimeout),
		session.WithProbeTimeout(cfg.Session.ProbeTimeout),
	)
	orch.SetRecovery(recovery.NewManager(client, st, nil, promptPassword))

	return &agent{cfg: cfg, store: st, orch: orch}, nil
}

func (a *agent) close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing store failed", "error", err)
	}
}

// consoleNotifier renders user-visible notifications on the terminal.
type consoleNotifier struct{}

func (consoleNotifier) Success(title, message string) {
	color.Green("%s", title)
	if message != "" {
		fmt.Println("  " + message)
	}
}

func (consoleNotifier) Error(title, message string) {
	color.Red("%s", title)
	if message != "" {
		fmt.Fprintln(os.Stderr, "  "+message)
	}
}

// consolePrompter is the terminal stand-in for the platform ceremony.
type consolePrompter struct{}

func (consolePrompter) Approve(ctx context.Context, purpose string) error {
	fmt.Printf("Confirm %s with your passkey [Y/n]: ", purpose)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return sdk.Errorf(sdk.KindCancelled, purpose, "ceremony aborted")
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "" || answer == "y" || answer == "yes" {
		return nil
	}
	return sdk.Errorf(sdk.KindCancelled, purpose, "ceremony dismissed")
}

func promptPassword(ctx context.Context) (string, error) {
	fmt.Print("Backup password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	sample := `storage:
  path: ${HOME}/.local/share/genji/genji.db

session:
  duration_days: 7
  register_timeout: 45s
  probe_timeout: 3s

registry:
  rpc_url: ""
  contract: ""
  version: ""

logging:
  level: info
  format: text

debug: false
`
	if err := os.WriteFile(path, []byte(sample), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	color.Green("Created %s", path)
	return nil
}

func runStatus(ctx context.Context) error {
	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	st := a.orch.Restore(ctx)
	if !st.Authenticated {
		fmt.Println("Not signed in")
		return nil
	}

	bold := color.New(color.Bold)
	bold.Printf("Signed in as %s\n", st.User.Username)
	fmt.Printf("  Address: %s\n", st.User.EthereumAddress)

	if status, err := a.orch.GetBackupStatus(ctx); err == nil {
		fmt.Printf("  Security score: %d (%s)\n", status.SecurityScore.Total, status.SecurityScore.Level)
		if status.SecurityScore.NextMilestone != "" {
			fmt.Printf("  Next: %s\n", status.SecurityScore.NextMilestone)
		}
	}

	if a.cfg.Debug {
		out, err := debug.Dump(ctx, a.orch)
		if err == nil {
			fmt.Println(out)
		}
	}
	return nil
}

func runRegister(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: genji register <username>")
	}
	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return a.orch.Register(ctx, os.Args[2])
}

func runLogin(ctx context.Context) error {
	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return a.orch.Login(ctx)
}

func runLogout(ctx context.Context) error {
	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.orch.Logout(ctx)
	fmt.Println("Signed out")
	return nil
}

func runSign(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: genji sign <message>")
	}
	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.orch.Restore(ctx)
	sig, err := a.orch.SignMessage(ctx, os.Args[2])
	if err != nil {
		return err
	}
	if sig == "" {
		return fmt.Errorf("not signed in")
	}
	fmt.Println(sig)
	return nil
}

func runAddress(ctx context.Context) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	mode := fs.String("mode", string(sdk.ModeStrict), "derive mode: ambient|strict|convenient|hardened")
	tag := fs.String("tag", "", "wallet slot tag")
	fs.Parse(os.Args[2:])

	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.orch.Restore(ctx)
	address, err := a.orch.GetAddress(ctx, sdk.DeriveMode(*mode), *tag)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func runBackup(ctx context.Context) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	out := fs.String("out", "genji-backup.json", "output file")
	password := fs.String("password", "", "backup password")
	zipped := fs.Bool("zip", false, "package the backup as a ZIP archive")
	fs.Parse(os.Args[2:])

	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.orch.Restore(ctx)

	pw := *password
	if pw == "" {
		if pw, err = promptPassword(ctx); err != nil {
			return err
		}
	}

	var data []byte
	if *zipped {
		data, err = a.orch.CreateZipBackup(ctx, pw)
	} else {
		data, err = a.orch.CreateBackup(ctx, pw)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(*out, data, 0600); err != nil {
		return fmt.Errorf("writing backup file: %w", err)
	}
	color.Green("Backup written to %s", *out)
	return nil
}

func runRestore(ctx context.Context) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	in := fs.String("in", "", "backup file")
	password := fs.String("password", "", "backup password")
	username := fs.String("username", "", "register the restored wallet under this username")
	fs.Parse(os.Args[2:])

	if *in == "" {
		return fmt.Errorf("usage: genji restore -in <file> [-username <name>]")
	}

	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	data, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("reading backup file: %w", err)
	}

	pw := *password
	if pw == "" {
		if pw, err = promptPassword(ctx); err != nil {
			return err
		}
	}

	if *username != "" {
		user, err := a.orch.RegisterWithBackupFile(ctx, data, pw, *username)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s as %s\n", user.EthereumAddress, user.Username)
		return nil
	}

	account, err := a.orch.RestoreFromBackup(ctx, data, pw)
	if err != nil {
		return err
	}
	fmt.Printf("Recovered wallet %s\n", account.EthereumAddress)
	return nil
}

func runGuardians(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: genji guardians <setup|invite|recover|clear>")
	}

	a, err := newAgent(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	switch os.Args[2] {
	case "setup":
		return runGuardiansSetup(ctx, a)
	case "invite":
		return runGuardiansInvite(ctx, a)
	case "recover":
		return runGuardiansRecover(ctx, a)
	case "clear":
		a.orch.ClearSocialRecoveryConfig(ctx)
		fmt.Println("Social recovery configuration cleared")
		return nil
	default:
		return fmt.Errorf("unknown guardians subcommand: %s", os.Args[2])
	}
}

func runGuardiansSetup(ctx context.Context, a *agent) error {
	fs := flag.NewFlagSet("guardians setup", flag.ExitOnError)
	threshold := fs.Int("threshold", 0, "shares needed for recovery")
	password := fs.String("password", "", "backup password")
	fs.Parse(os.Args[3:])

	var contacts []recovery.Contact
	for _, arg := range fs.Args() {
		// name:email, email optional
		name, email, _ := strings.Cut(arg, ":")
		contacts = append(contacts, recovery.Contact{Name: name, Email: email})
	}
	if len(contacts) == 0 {
		return fmt.Errorf("usage: genji guardians setup -threshold N name[:email] ...")
	}

	a.orch.Restore(ctx)
	cfg, err := a.orch.SetupSocialRecovery(ctx, contacts, *threshold, *password)
	if err != nil {
		return err
	}

	color.Green("Configured %d guardians, %d needed to recover", cfg.TotalGuardians, cfg.Threshold)
	for _, g := range cfg.Guardians {
		fmt.Printf("  %s  %s\n", g.ID, g.Name)
	}
	return nil
}

func runGuardiansInvite(ctx context.Context, a *agent) error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: genji guardians invite <guardian-id>")
	}

	invite, err := a.orch.GenerateGuardianInvite(ctx, os.Args[3])
	if err != nil {
		return err
	}

	fmt.Println("Share code (send out-of-band):")
	fmt.Println(invite.ShareCode)
	fmt.Println()
	fmt.Println(invite.Explainer)
	return nil
}

func runGuardiansRecover(ctx context.Context, a *agent) error {
	fs := flag.NewFlagSet("guardians recover", flag.ExitOnError)
	password := fs.String("password", "", "backup password")
	fs.Parse(os.Args[3:])

	shares := fs.Args()
	if len(shares) == 0 {
		return fmt.Errorf("usage: genji guardians recover -password <pw> <share> <share> ...")
	}

	pw := *password
	var err error
	if pw == "" {
		if pw, err = promptPassword(ctx); err != nil {
			return err
		}
	}

	recovered, err := a.orch.RecoverFromGuardians(ctx, shares, pw)
	if err != nil {
		return err
	}
	fmt.Printf("Recovered wallet %s\n", recovered.EthereumAddress)
	return nil
}

func runVerifyBuild(ctx context.Context) error {
	fs := flag.NewFlagSet("verify-build", flag.ExitOnError)
	versionFlag := fs.String("version", "", "release version to verify against (default: latest)")
	fs.Parse(os.Args[2:])

	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Registry.RPCURL == "" || cfg.Registry.Contract == "" {
		return fmt.Errorf("registry.rpc_url and registry.contract must be configured")
	}

	verifier := registry.NewVerifier(registry.NewClient(cfg.Registry.RPCURL, cfg.Registry.Contract))

	localHash := devsdk.BuildHash
	target := *versionFlag
	if target == "" {
		target = cfg.Registry.Version
	}

	var result *registry.Result
	var err error
	if target != "" {
		result, err = verifier.VerifyBuild(ctx, target, localHash)
	} else {
		result, err = verifier.VerifyLatest(ctx, localHash)
	}
	if err != nil {
		return err
	}

	if result.Verified {
		color.Green("Build verified against %s", result.Version)
	} else {
		color.Red("Build hash mismatch for %s", result.Version)
		fmt.Printf("  trusted: %s\n  local:   %s\n", result.TrustedCID, result.LocalHash)
	}
	return nil
}
