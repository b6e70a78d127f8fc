package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/internal/statusapi"
	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/bus"
	"github.com/haio-cloud/haio-client/pkg/config"
	"github.com/haio-cloud/haio-client/pkg/creds"
	"github.com/haio-cloud/haio-client/pkg/mountpoint"
	"github.com/haio-cloud/haio-client/pkg/persist"
	"github.com/haio-cloud/haio-client/pkg/reconcile"
	"github.com/haio-cloud/haio-client/pkg/supervisor"
	"github.com/haio-cloud/haio-client/pkg/swift"
	"github.com/haio-cloud/haio-client/pkg/tempurl"
)

// agentConfigFile is the mount-agent config file under the config directory.
const agentConfigFile = "mount_agent.conf"

// logoutGracePeriod is how long in-flight operations get to settle before
// logout force-unmounts everything.
const logoutGracePeriod = 10 * time.Second

// shareTTL is the validity window of generated share links.
const shareTTL = 24 * time.Hour

var (
	usernameFlag string
	rememberFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the client (default action)",
	Long: `Run the client: authenticate, keep the bucket list reconciled with the
server, supervise mounts, and serve the local status API when enabled.

The account is taken from --username, or from the credential store when
exactly one account is saved. When no session exists the password is asked
for interactively; --remember saves it for transparent re-authentication.

Examples:
  # Run with the single saved account
  haio-client run

  # First login
  haio-client run --username alice --remember

  # Environment overrides
  HAIO_BASE_URL=https://storage.example.com haio-client run`,
	RunE: runRun,
}

func init() {
	// Persistent so the bare "haio-client" default action accepts them too.
	rootCmd.PersistentFlags().StringVarP(&usernameFlag, "username", "u", "", "account username (default: the single saved account)")
	rootCmd.PersistentFlags().BoolVar(&rememberFlag, "remember", false, "save the password for automatic re-authentication")
}

// app holds the wired components of a running client.
type app struct {
	cfg       *config.Config
	store     *creds.Store
	client    *swift.Client
	adapter   *agent.Adapter
	installer persist.Installer
	bus       *bus.Bus
	sup       *supervisor.Supervisor
	eng       *reconcile.Engine
	keys      *tempurl.Manager
	username  string

	logoutOnce sync.Once
	quit       chan struct{}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	logger.Info("haio-client starting", "version", Version)
	logger.Info("configuration loaded", "source", configSource(GetConfigFile()))

	store := creds.NewStore(config.Dir())
	username, err := resolveUsername(store, usernameFlag)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	client := swift.New(cfg.API.BaseURL, username, store, swift.Options{
		RequestTimeout: cfg.API.RequestTimeout,
		RetryAttempts:  cfg.API.RetryAttempts,
		RetryBaseDelay: cfg.API.RetryBaseDelay,
		RetryMaxDelay:  cfg.API.RetryMaxDelay,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ensureSession(ctx, client, store, username, rememberFlag); err != nil {
		return err
	}

	binary, err := agent.Locate(cfg.Agent.Path)
	if err != nil {
		return err
	}
	logger.Info("mount agent located", logger.KeyPath, binary)

	adapter := agent.New(binary, filepath.Join(config.Dir(), agentConfigFile), cfg.Agent)

	a := &app{
		cfg:       cfg,
		store:     store,
		client:    client,
		adapter:   adapter,
		installer: persist.NewInstaller(adapter, persist.Pkexec{}),
		bus:       bus.New(),
		username:  username,
		quit:      make(chan struct{}),
	}

	inspector := mountpoint.NewInspector()
	a.sup = supervisor.New(cfg.Mounts, supervisor.WrapAdapter(adapter), inspector, a.bus, client)
	a.eng = reconcile.New(cfg.Reconcile, client, a.sup, a.installer, a.bus, inspector, username)
	a.keys = tempurl.NewManager(username, client, store)

	go a.eng.Run(ctx)
	go a.sup.RunHealthMonitor(ctx)
	go a.watchAgentConfig(ctx)
	go a.dispatch(ctx)

	serverDone := make(chan error, 1)
	statusAPI := cfg.StatusAPI.Enabled
	if statusAPI {
		srv := statusapi.New(cfg.StatusAPI, a.bus, Version)
		go func() {
			serverDone <- srv.Serve(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("client is running", logger.KeyAccount, username)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
		cancel()
	case <-a.quit:
		logger.Info("logout completed, shutting down")
		cancel()
	case err := <-serverDone:
		if err != nil {
			logger.Error("status API error", logger.KeyError, err.Error())
			return err
		}
		return nil
	}

	if statusAPI {
		if err := <-serverDone; err != nil {
			logger.Error("status API shutdown error", logger.KeyError, err.Error())
			return err
		}
	}
	logger.Info("stopped")
	return nil
}

// resolveUsername picks the account to run as: the flag when given, otherwise
// the single saved account.
func resolveUsername(store *creds.Store, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}

	known, err := store.ListKnown()
	if err != nil {
		return "", err
	}
	switch len(known) {
	case 0:
		return "", fmt.Errorf("no saved accounts; pass --username")
	case 1:
		return known[0], nil
	default:
		return "", fmt.Errorf("multiple saved accounts (%s); pass --username", strings.Join(known, ", "))
	}
}

// ensureSession makes sure the client can authenticate: a saved token or
// password is enough, otherwise the password is asked for interactively.
func ensureSession(ctx context.Context, client *swift.Client, store *creds.Store, username string, remember bool) error {
	token, password, err := store.Load(username)
	if err != nil {
		return err
	}
	if token != "" || password != "" {
		return nil
	}

	prompt := promptui.Prompt{
		Label: fmt.Sprintf("Password for %s", username),
		Mask:  '*',
	}
	password, err = prompt.Run()
	if err != nil {
		return fmt.Errorf("password prompt aborted: %w", err)
	}

	if _, err := client.Authenticate(ctx, password); err != nil {
		return err
	}

	if remember {
		if err := store.Save(username, client.Token(), password); err != nil {
			return err
		}
		if scheme, _ := store.Scheme(username); scheme == creds.SchemeB64 {
			logger.Warn("no OS keychain available; the saved password is obfuscated, not encrypted",
				logger.KeyAccount, username,
				logger.KeyScheme, scheme)
		}
	}
	return nil
}

// watchAgentConfig restores the account entry when an external edit to the
// agent config file drops it.
func (a *app) watchAgentConfig(ctx context.Context) {
	err := a.adapter.WatchConfig(ctx, func() {
		name := agent.ConfigName(a.username)
		if a.adapter.HasEntry(name) {
			return
		}
		logger.Warn("agent config entry lost after external edit; rewriting",
			logger.KeyAccount, a.username)
		if err := a.adapter.WriteAgentConfig(name, a.client.BaseURL(), a.username, a.client.Token()); err != nil {
			logger.Error("cannot restore agent config entry", logger.KeyError, err.Error())
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("agent config watcher stopped", logger.KeyError, err.Error())
	}
}

// dispatch consumes frontend commands until ctx ends. Each command runs on
// its own worker; per-bucket serialization happens in the supervisor.
func (a *app) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.bus.Commands():
			a.handle(ctx, cmd)
		}
	}
}

func (a *app) handle(ctx context.Context, cmd bus.Command) {
	switch cmd.Type {
	case bus.CmdMount:
		go a.mount(ctx, cmd)
	case bus.CmdUnmount:
		go func() {
			_ = a.sup.Unmount(ctx, cmd.Container, cmd.ID)
		}()
	case bus.CmdTogglePersist:
		go a.togglePersist(ctx, cmd)
	case bus.CmdShare:
		go a.share(ctx, cmd)
	case bus.CmdBrowse:
		go a.browse(cmd)
	case bus.CmdLogout:
		go a.logout()
	case bus.CmdPromptAnswer:
		go a.answerPrompt(ctx, cmd)
	default:
		a.bus.Fail(cmd.ID, fmt.Errorf("unknown command type %q", cmd.Type))
	}
}

// mount retries a FAILED bucket when the user asks again: an explicit click
// is consent to reset and try once more.
func (a *app) mount(ctx context.Context, cmd bus.Command) {
	if state, _ := a.sup.State(cmd.Container); state == bus.StateFailed {
		a.sup.Reset(cmd.Container)
	}
	if err := a.sup.Mount(ctx, cmd.Container, cmd.ID); err == nil {
		a.bus.Status("✓ Mounted "+cmd.Container, 5*time.Second)
	}
}

func (a *app) togglePersist(ctx context.Context, cmd bus.Command) {
	container := cmd.Container

	if a.installer.IsInstalled(a.username, container) {
		if err := a.installer.Remove(ctx, a.username, container); err != nil {
			a.bus.Fail(cmd.ID, err)
			return
		}
		a.bus.SetPersistInstalled(container, false)
		a.bus.Status("Auto-mount disabled for "+container, 5*time.Second)
		return
	}

	_, mp := a.sup.State(container)
	if mp == "" {
		var err error
		mp, err = mountpoint.PathFor(a.username, container)
		if err != nil {
			a.bus.Fail(cmd.ID, err)
			return
		}
	}

	if err := a.installer.Install(ctx, a.username, container, mp); err != nil {
		a.bus.Fail(cmd.ID, err)
		return
	}
	a.bus.SetPersistInstalled(container, true)
	a.bus.Status("✓ Auto-mount enabled for "+container, 5*time.Second)
}

func (a *app) share(ctx context.Context, cmd bus.Command) {
	key, err := a.keys.EnsureKey(ctx)
	if err != nil {
		a.bus.Fail(cmd.ID, err)
		return
	}

	link, err := shareLink(tempurl.NewSigner(key), a.client.StorageURL(), cmd.Container, cmd.Object, shareTTL)
	if err != nil {
		a.bus.Fail(cmd.ID, err)
		return
	}

	logger.Info("share link generated",
		logger.KeyBucket, cmd.Container,
		logger.KeyPath, cmd.Object)
	a.bus.Publish(bus.Event{
		Type:          bus.EventStatusMessage,
		CorrelationID: cmd.ID,
		Bucket:        cmd.Container,
		Message:       fmt.Sprintf("Share link (valid %s): %s", shareTTL, link),
		Dwell:         30 * time.Second,
		Payload:       link,
	})
}

func (a *app) browse(cmd bus.Command) {
	state, mp := a.sup.State(cmd.Container)
	if state != bus.StateMounted && state != bus.StateDegraded {
		a.bus.Status("Mount "+cmd.Container+" before browsing it", 5*time.Second)
		return
	}
	if err := openPath(mp); err != nil {
		a.bus.Fail(cmd.ID, err)
	}
}

// logout unmounts everything, clears the token, and stops the client. The
// password stays saved when the user chose to remember it.
func (a *app) logout() {
	a.logoutOnce.Do(func() {
		a.bus.Status("Signing out...", 5*time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), logoutGracePeriod+a.cfg.Mounts.UnmountTotalTimeout)
		defer cancel()

		if err := a.sup.Logout(ctx, logoutGracePeriod); err != nil {
			logger.Warn("logout left mounts behind", logger.KeyError, err.Error())
		}
		if err := a.store.SetToken(a.username, ""); err != nil {
			logger.Error("cannot clear saved token", logger.KeyError, err.Error())
		}
		close(a.quit)
	})
}

func (a *app) answerPrompt(ctx context.Context, cmd bus.Command) {
	switch cmd.Prompt {
	case reconcile.PromptOrphanMounts:
		if err := a.eng.HandleOrphansDecision(ctx, cmd.Answer); err != nil {
			a.bus.Fail(cmd.ID, err)
		}
	case supervisor.PromptDegraded:
		if cmd.Answer {
			_ = a.sup.Mount(ctx, cmd.Container, cmd.ID)
		}
	default:
		a.bus.Fail(cmd.ID, fmt.Errorf("unknown prompt %q", cmd.Prompt))
	}
}

// shareLink assembles a signed URL for one object from the account storage
// URL, which carries both the endpoint host and the /v1/AUTH_<user> path.
func shareLink(signer *tempurl.Signer, storageURL, container, object string, ttl time.Duration) (string, error) {
	u, err := url.Parse(storageURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid storage URL %q", storageURL)
	}

	base := u.Scheme + "://" + u.Host
	objectPath := strings.TrimRight(u.Path, "/") + "/" + container + "/" + object
	return signer.URL(base, http.MethodGet, objectPath, ttl, ""), nil
}

// openPath reveals a directory in the OS file manager.
func openPath(path string) error {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("explorer", path).Start()
	case "darwin":
		return exec.Command("open", path).Start()
	default:
		return exec.Command("xdg-open", path).Start()
	}
}

// configSource describes where the configuration was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
		return config.DefaultConfigPath()
	}
	return "defaults"
}
