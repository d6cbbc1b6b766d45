package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmerrifield20/filewarden/internal/merkle"
	"github.com/jmerrifield20/filewarden/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL    string
	cfgFile      string
	outputFormat string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "filewarden CLI",
	Long: `warden is the command-line interface for a wardend file-integrity daemon.

Upload files to place them under protection, request authorized edits with
the token returned at upload, and inspect the ledger and activity log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".warden"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("WARDEN")
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		switch outputFormat {
		case "text", "json":
			return nil
		default:
			return fmt.Errorf("unknown --format %q (want text or json)", outputFormat)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.warden/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "wardend base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(modifyCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(serverURL)
}

func newTicketStore() (*client.TicketStore, error) {
	dir := viper.GetString("session_dir")
	if dir == "" {
		var err error
		if dir, err = client.DefaultTicketDir(); err != nil {
			return nil, err
		}
	}
	return client.NewTicketStore(dir), nil
}

// principalFlag resolves --principal, falling back to the config file, the
// WARDEN_PRINCIPAL variable and finally the login name.
func principalFlag(flag string) (string, error) {
	p := flag
	if p == "" {
		p = viper.GetString("principal")
	}
	if p == "" {
		p = os.Getenv("USER")
	}
	if strings.TrimSpace(p) == "" {
		return "", errors.New("--principal is required")
	}
	return p, nil
}

// ── upload ───────────────────────────────────────────────────────────────────

var uploadPrincipal string

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Place a file under protection and print its modification token",
	Long: `Upload copies a local file into the watched directory, records its
fingerprint in the ledger and prints the token bound to you and this
content. Keep the token: it is required to edit the file later.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		principal, err := principalFlag(uploadPrincipal)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.UploadFile(cmd.Context(), args[0], principal)
		if err != nil {
			return err
		}
		return printUpload(res)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadPrincipal, "principal", "", "Owner of the file (default $USER)")
}

// ── modify ───────────────────────────────────────────────────────────────────

var (
	modifyToken     string
	modifyPrincipal string
)

var modifyCmd = &cobra.Command{
	Use:   "modify <name>",
	Short: "Request an authorized edit of a protected file",
	Long: `Modify presents your token to the daemon. When granted, enforcement for
the file is suspended until 'warden done' or 'warden cancel'. The session
ticket is stored under ~/.warden/sessions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		principal, err := principalFlag(modifyPrincipal)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		store, err := newTicketStore()
		if err != nil {
			return err
		}

		grant, err := c.Modify(cmd.Context(), args[0], modifyToken, principal)
		var denied *client.DeniedError
		if errors.As(err, &denied) {
			return fmt.Errorf("modification of %s denied: %s", args[0], denied.Reason)
		}
		if err != nil {
			return err
		}
		if grant.SessionTicket != "" {
			if err := store.Save(args[0], grant.SessionTicket); err != nil {
				return err
			}
		}
		return printGrant(args[0], grant)
	},
}

func init() {
	modifyCmd.Flags().StringVar(&modifyToken, "token", "", "Token returned at upload (required)")
	modifyCmd.Flags().StringVar(&modifyPrincipal, "principal", "", "Requesting principal (default $USER)")
	_ = modifyCmd.MarkFlagRequired("token")
}

// ── done / cancel ────────────────────────────────────────────────────────────

var doneCmd = &cobra.Command{
	Use:   "done <name>",
	Short: "Finish an authorized edit and record the new content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ticket, store, err := sessionClient(args[0])
		if err != nil {
			return err
		}
		block, err := c.Done(cmd.Context(), args[0], ticket)
		if err != nil {
			return err
		}
		_ = store.Remove(args[0])
		return printBlocks([]client.Block{*block})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <name>",
	Short: "Abandon an authorized edit and restore the pre-edit content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ticket, store, err := sessionClient(args[0])
		if err != nil {
			return err
		}
		if err := c.Cancel(cmd.Context(), args[0], ticket); err != nil {
			return err
		}
		_ = store.Remove(args[0])
		fmt.Printf("Edit of %s cancelled; pre-edit content restored.\n", args[0])
		return nil
	},
}

// sessionClient loads the stored ticket for name. A daemon running without
// tickets accepts an empty one.
func sessionClient(name string) (*client.Client, string, *client.TicketStore, error) {
	c, err := newClient()
	if err != nil {
		return nil, "", nil, err
	}
	store, err := newTicketStore()
	if err != nil {
		return nil, "", nil, err
	}
	ticket, err := store.Load(name)
	if err != nil && !errors.Is(err, client.ErrNoTicket) {
		return nil, "", nil, err
	}
	return c, ticket, store, nil
}

// ── files / history / logs ───────────────────────────────────────────────────

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List protected files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		files, err := c.Files(cmd.Context())
		if err != nil {
			return err
		}
		return printFiles(files)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show every ledger block recorded for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		blocks, err := c.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printBlocks(blocks)
	},
}

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.Logs(cmd.Context(), logsLimit)
		if err != nil {
			return err
		}
		return printLogs(entries)
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "Number of entries (0 = all retained)")
}

// ── ledger ───────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the ledger",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.VerifyLedger(cmd.Context())
		if err != nil {
			return err
		}
		if err := printVerify(res); err != nil {
			return err
		}
		if !res.Valid {
			return errors.New("ledger integrity check failed")
		}
		return nil
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show [index]",
	Short: "Show the ledger root, or a single block",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			idx, err := strconv.Atoi(args[0])
			if err != nil || idx < 0 {
				return fmt.Errorf("index must be a non-negative integer")
			}
			block, err := c.Block(cmd.Context(), idx)
			if err != nil {
				return err
			}
			return printBlocks([]client.Block{*block})
		}
		ov, err := c.Ledger(cmd.Context())
		if err != nil {
			return err
		}
		return printOverview(ov)
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
}

// ── fingerprint ──────────────────────────────────────────────────────────────

var fingerprintChunk int

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file>...",
	Short: "Compute the Merkle fingerprint of local files",
	Long: `Fingerprint computes the same Merkle root the daemon records, without
contacting it. Use it to check a copy against 'warden history'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := merkle.NewHasher(fingerprintChunk)
		var failed bool
		for _, path := range args {
			fp, err := h.File(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed = true
				continue
			}
			fmt.Printf("%s  %s\n", fp, path)
		}
		if failed {
			return errors.New("some files could not be fingerprinted")
		}
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().IntVar(&fingerprintChunk, "chunk-size", merkle.DefaultChunkSize, "Leaf size in bytes")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warden CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("warden %s (filewarden)\n", version)
	},
}
