package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/client"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/logging"
	"github.com/matheus3301/relay/internal/paths"
	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
	"github.com/matheus3301/relay/internal/store"
	"github.com/matheus3301/relay/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:          "relaychat",
	Short:        "Terminal client for a relayd chat room",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runChat,
}

var (
	flagProfile string
	flagURL     string
	flagName    string
	flagMemory  bool
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	flags.StringVar(&flagURL, "url", "", "relay websocket URL (overrides [client].url)")
	flags.StringVar(&flagName, "name", "", "display name (overrides [client].username)")
	flags.BoolVar(&flagMemory, "no-persist", false, "keep unsent messages in memory only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	profile := paths.ResolveProfile(flagProfile)
	if err := paths.ValidateProfile(profile); err != nil {
		return err
	}
	cfg, err := config.Resolve(paths.ConfigPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cc := cfg.Client
	if cmd.Flags().Changed("url") {
		cc.URL = flagURL
	}
	if cmd.Flags().Changed("name") {
		cc.Username = flagName
	}
	if flagMemory {
		cc.PersistQueue = false
	}

	dir := paths.ClientDir(profile)
	if err := paths.EnsureDir(dir); err != nil {
		return err
	}
	lk, err := lock.Acquire(dir)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("another relaychat is using profile %q (pid %d)", profile, held.PID)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	// The TUI owns the terminal, so logs go to the file only.
	logger, closeLog, err := logging.New(logging.Options{
		Path:      paths.LogPath(dir, "relaychat"),
		Component: "relaychat",
		Profile:   profile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	var queue client.Queue = client.NewMemoryQueue()
	if cc.PersistQueue {
		db, err := store.OpenMigrated(paths.QueuePath(profile))
		if err != nil {
			return fmt.Errorf("open offline queue: %w", err)
		}
		defer func() { _ = db.Close() }()
		logger.Info("offline queue opened", zap.String("path", db.Path()))
		queue = db
	}

	name := cc.Username
	if name == "" {
		if name, err = promptName(); err != nil {
			return err
		}
	}

	b := bus.New()
	mgr := client.NewManager(client.WSDialer{}, queue, sched.Real(), b, client.Options{
		URL:                  cc.URL,
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
		HeartbeatEvery:       cc.HeartbeatEvery.Std(),
		TimelineCap:          cc.TimelineCap,
		Pending: client.PendingOptions{
			DeliveryTimeout: cc.DeliveryTimeout.Std(),
			RetryInterval:   cc.RetryInterval.Std(),
			MaxAttempts:     cc.MaxAttempts,
			ReplayStagger:   cc.ReplayStagger.Std(),
		},
	}, logger.Named("conn"))

	if n, err := mgr.Pending().Restore(); err != nil {
		logger.Warn("restore offline queue", zap.Error(err))
	} else if n > 0 {
		logger.Info("restored unsent messages", zap.Int("count", n))
	}

	app := tui.NewApp(mgr, b, tui.Options{
		Profile:     profile,
		MaxAttempts: cc.MaxAttempts,
		IdleAfter:   cc.AwayAfter.Std(),
	})
	if err := mgr.Login(name); err != nil {
		return err
	}
	defer mgr.Logout()
	return app.Run()
}

func promptName() (string, error) {
	in := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("display name: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read name: %w", err)
		}
		name, err := protocol.ValidateName(strings.TrimSpace(line))
		if err == nil {
			return name, nil
		}
		fmt.Println(err)
	}
}
