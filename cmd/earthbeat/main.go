package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/denismitr/earthbeat"
	"github.com/denismitr/earthbeat/internal/config"
	"github.com/denismitr/earthbeat/internal/feed"
	"github.com/denismitr/earthbeat/internal/logger"
	"github.com/denismitr/earthbeat/internal/store"
)

var configPath string

func main() {
	// a missing .env is fine, real environment variables still apply
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() (baseDir, path string, err error) {
	baseDir, path, err = config.DefaultPaths()
	if err != nil {
		return "", "", err
	}

	if configPath != "" {
		path = configPath
	}

	return baseDir, path, nil
}

func loadConfig() (*config.Config, string, error) {
	_, path, err := resolveConfigPath()
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config (run `earthbeat config init` first?): %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, "", fmt.Errorf("applying environment: %w", err)
	}

	return cfg, path, nil
}

// openPeer reads the config and opens a peer. The caller must call the returned closer.
func openPeer(withHeartbeat bool) (*earthbeat.Peer, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	opts := []earthbeat.Option{earthbeat.WithLogger(log)}
	if !withHeartbeat {
		opts = append(opts, earthbeat.WithoutHeartbeat())
	}

	p, closer, err := earthbeat.Open(cfg, opts...)
	if err != nil {
		_ = log.Sync()
		return nil, nil, fmt.Errorf("opening peer: %w", err)
	}

	return p, func() {
		if err := closer(); err != nil {
			log.Error("closing peer", zap.Error(err))
		}
		_ = log.Sync()
	}, nil
}

func workspaceOrCurrent(cmd *cobra.Command, p *earthbeat.Peer) (string, error) {
	w, _ := cmd.Flags().GetString("workspace")
	if w == "" {
		w = p.CurrentWorkspace()
	}

	if w == "" {
		return "", fmt.Errorf("%w: add one with `earthbeat workspace add`", earthbeat.ErrNoWorkspace)
	}

	return w, nil
}

var rootCmd = &cobra.Command{
	Use:          "earthbeat",
	Short:        "Presence and status feed for shared workspaces",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir, path, err := resolveConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(baseDir)
		cfg.Identity, _ = cmd.Flags().GetString("identity")
		if cfg.Identity != "" {
			if err := store.ValidateAuthor(cfg.Identity); err != nil {
				return err
			}
		}

		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Snapshots: %s\n", cfg.Storage.Dir)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("# %s\n", path)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// identity command
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the identity statuses are posted as",
}

var identityUseCmd = &cobra.Command{
	Use:   "use <@name.key>",
	Short: "Post as the given author address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := store.Identity{Address: args[0]}
		if err := store.ValidateAuthor(id.Address); err != nil {
			return err
		}

		_, path, err := resolveConfigPath()
		if err != nil {
			return err
		}

		cfg, err := config.ReadFromFile(path)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		// the configured identity wins on open, so it has to follow the switch
		if cfg.Identity != "" {
			cfg.Identity = id.Address
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("updating config: %w", err)
			}
		}

		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		if err := p.SetIdentity(cmd.Context(), id); err != nil {
			return fmt.Errorf("switching identity: %w", err)
		}

		fmt.Printf("Posting as %s\n", id.Address)
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		id := p.Identity()
		if id.IsZero() {
			fmt.Println("No identity selected")
			return nil
		}

		fmt.Println(id.Address)
		return nil
	},
}

// workspace command
var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
}

var workspaceAddCmd = &cobra.Command{
	Use:   "add <+name.suffix>",
	Short: "Join a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		if err := p.AddWorkspace(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("adding workspace: %w", err)
		}

		fmt.Printf("Joined %s\n", args[0])
		return nil
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List joined workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		current := p.CurrentWorkspace()
		for _, w := range p.Workspaces() {
			marker := " "
			if w == current {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, w)
		}
		return nil
	},
}

var workspaceUseCmd = &cobra.Command{
	Use:   "use <+name.suffix>",
	Short: "Select the workspace statuses are posted to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		if err := p.SetCurrentWorkspace(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("selecting workspace: %w", err)
		}

		fmt.Printf("Current workspace: %s\n", args[0])
		return nil
	},
}

// pub command
var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Manage relay servers of workspaces",
}

var pubAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Remember a relay for a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		w, err := workspaceOrCurrent(cmd, p)
		if err != nil {
			return err
		}

		if err := p.AddPub(cmd.Context(), w, args[0]); err != nil {
			return fmt.Errorf("adding pub: %w", err)
		}

		fmt.Printf("Added %s to %s\n", args[0], w)
		return nil
	},
}

var pubListCmd = &cobra.Command{
	Use:   "list",
	Short: "List relays per workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		pubs := p.Pubs()
		for _, w := range p.Workspaces() {
			fmt.Println(w)
			for _, url := range pubs[w] {
				fmt.Printf("  %s\n", url)
			}
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Manage your status",
}

var statusSetCmd = &cobra.Command{
	Use:   "set <text>",
	Short: "Post a new status",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		w, _ := cmd.Flags().GetString("workspace")
		c := p.Composer()
		if w != "" {
			if err := c.Select(w); err != nil {
				return err
			}
		}

		c.Edit(strings.Join(args, " "))
		doc, err := c.Submit()
		if err != nil {
			return err
		}

		fmt.Printf("Posted to %s at %s\n", doc.Workspace, time.UnixMicro(doc.Timestamp).Format(time.RFC3339))
		return nil
	},
}

// name command
var nameCmd = &cobra.Command{
	Use:   "name",
	Short: "Manage your display name",
}

var nameSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Set the name shown next to your statuses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		w, err := workspaceOrCurrent(cmd, p)
		if err != nil {
			return err
		}

		name := strings.Join(args, " ")
		if _, err := p.SetDisplayName(w, name); err != nil {
			return fmt.Errorf("setting display name: %w", err)
		}

		fmt.Printf("Display name in %s: %s\n", w, name)
		return nil
	},
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the statuses of every workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		feeds, err := p.FeedAll(cmd.Context())
		if err != nil {
			return err
		}

		if len(feeds) == 0 {
			fmt.Println("Add some workspaces so that you can post!")
			return nil
		}

		for _, f := range feeds {
			printFeed(f.Workspace, f.Entries)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stay online and follow the feed until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, closePeer, err := openPeer(true)
		if err != nil {
			return err
		}
		defer closePeer()

		if p.Identity().IsZero() {
			fmt.Println("No identity selected, following without a heartbeat")
		}

		w, err := workspaceOrCurrent(cmd, p)
		if err != nil {
			return err
		}

		if _, err := p.WatchFeed(w, func(entries []feed.Entry) {
			printFeed(w, entries)
		}); err != nil {
			return err
		}

		<-ctx.Done()

		if leave, _ := cmd.Flags().GetBool("leave"); leave && !p.Identity().IsZero() {
			if _, err := p.Leave(context.Background()); err != nil {
				return fmt.Errorf("leaving: %w", err)
			}
		}

		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Tell every workspace you are no longer around",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closePeer, err := openPeer(false)
		if err != nil {
			return err
		}
		defer closePeer()

		if p.Identity().IsZero() {
			return earthbeat.ErrNoIdentity
		}

		n, err := p.Leave(cmd.Context())
		if err != nil {
			return fmt.Errorf("leaving: %w", err)
		}

		fmt.Printf("Left %d workspace(s)\n", n)
		return nil
	},
}

func printFeed(workspace string, entries []feed.Entry) {
	fmt.Printf("\n== %s ==\n", workspace)
	if len(entries) == 0 {
		fmt.Println("  (no statuses yet)")
		return
	}

	for _, e := range entries {
		fmt.Printf("  [%-7s] %s: %s\n", e.Presence, e.DisplayName, e.Content)
		fmt.Printf("            %s ago (%s)\n", e.Age.Round(time.Second), e.Oldness())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().String("identity", "", "Author address to post as")

	identityCmd.AddCommand(identityUseCmd)
	identityCmd.AddCommand(identityShowCmd)

	workspaceCmd.AddCommand(workspaceAddCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceUseCmd)

	pubCmd.AddCommand(pubAddCmd)
	pubCmd.AddCommand(pubListCmd)
	pubAddCmd.Flags().StringP("workspace", "w", "", "Workspace address, defaults to the current one")

	statusCmd.AddCommand(statusSetCmd)
	statusSetCmd.Flags().StringP("workspace", "w", "", "Workspace address, defaults to the current one")

	nameCmd.AddCommand(nameSetCmd)
	nameSetCmd.Flags().StringP("workspace", "w", "", "Workspace address, defaults to the current one")

	runCmd.Flags().StringP("workspace", "w", "", "Workspace address, defaults to the current one")
	runCmd.Flags().Bool("leave", false, "Publish an empty heartbeat on exit")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(pubCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(leaveCmd)
}
