package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pdfchat/internal/config"
	"pdfchat/internal/rag"
	"pdfchat/internal/tui"
	"pdfchat/internal/watch"
)

type globalFlags struct {
	configPath string
	apiKey     string
	logLevel   string
}

func main() {
	_ = godotenv.Load()

	var g globalFlags
	rootCmd := &cobra.Command{
		Use:           "pdfchat",
		Short:         "Chat with a PDF using retrieval-augmented generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to YAML config file (default ./config.yaml or ~/.config/pdfchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.apiKey, "api-key", "", "API key for the chat model (overrides config and environment)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	var (
		chatPDF     string
		chatSession string
		chatWatch   bool
	)
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), g, chatPDF, chatSession, chatWatch)
		},
	}
	chatCmd.Flags().StringVar(&chatPDF, "pdf", "", "PDF file to load on start")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session id (default from config)")
	chatCmd.Flags().BoolVar(&chatWatch, "watch", false, "Reload the PDF when it changes on disk")

	var (
		askPDF         string
		askSession     string
		askShowHistory bool
	)
	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question about a PDF",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), g, askPDF, askSession, strings.Join(args, " "), askShowHistory)
		},
	}
	askCmd.Flags().StringVar(&askPDF, "pdf", "", "PDF file to answer from")
	askCmd.Flags().StringVar(&askSession, "session", "", "Session id (default from config)")
	askCmd.Flags().BoolVar(&askShowHistory, "show-history", false, "Print the session history after the answer")
	_ = askCmd.MarkFlagRequired("pdf")

	rootCmd.AddCommand(chatCmd, askCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig resolves configuration and the API key. It fails before any
// component is constructed when the credential is missing.
func loadConfig(g globalFlags) (*config.AppConfig, string, error) {
	var cfg *config.AppConfig
	var err error
	if g.configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(g.configPath)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.apiKey != "" {
		cfg.LLM.APIKey = g.apiKey
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	key, err := config.ResolveAPIKey(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: no API key configured. Set %s, llm.api_key or --api-key to ask questions.\n", cfg.LLM.APIKeyEnv)
		return nil, "", err
	}
	return cfg, key, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

func runAsk(ctx context.Context, out io.Writer, g globalFlags, pdfPath, session, question string, showHistory bool) error {
	cfg, key, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.Log.Level)
	slog.SetDefault(logger)

	a, err := buildApp(ctx, cfg, key, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.svc.LoadFile(ctx, pdfPath); err != nil {
		return err
	}
	res, err := a.svc.Ask(ctx, session, question)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	fmt.Fprintln(out, res.Answer)
	if showHistory {
		fmt.Fprintf(out, "\nChat history (%s):\n", res.SessionID)
		for _, m := range res.Messages {
			fmt.Fprintf(out, "  [%s] %s\n", m.Role, m.Text)
		}
	}
	return nil
}

func runChat(ctx context.Context, g globalFlags, pdfPath, session string, watchPDF bool) error {
	cfg, key, err := loadConfig(g)
	if err != nil {
		return err
	}
	logFile, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := newLogger(logFile, cfg.Log.Level)
	slog.SetDefault(logger)

	var program *tea.Program
	observer := func(sessionID string, stage rag.Stage) {
		if program != nil {
			program.Send(tui.StageMsg{SessionID: sessionID, Stage: stage})
		}
	}
	a, err := buildApp(ctx, cfg, key, logger, observer)
	if err != nil {
		return err
	}
	defer a.Close()

	if session == "" {
		session = a.svc.DefaultSession()
	}
	var opts []tui.Option
	if pdfPath != "" {
		doc, err := a.svc.LoadFile(ctx, pdfPath)
		if err != nil {
			return err
		}
		opts = append(opts, tui.WithDocument(doc))
	}

	program = tea.NewProgram(tui.New(ctx, a.svc, session, opts...), tea.WithAltScreen(), tea.WithContext(ctx))

	if watchPDF && pdfPath != "" {
		w, err := watch.New(pdfPath, func(ctx context.Context, path string) error {
			doc, err := a.svc.LoadFile(ctx, path)
			program.Send(tui.DocumentMsg{Doc: doc, Err: err})
			return err
		}, watch.WithLogger(logger))
		if err != nil {
			return err
		}
		defer w.Close()
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = w.Run(watchCtx) }()
	}

	_, err = program.Run()
	return err
}
