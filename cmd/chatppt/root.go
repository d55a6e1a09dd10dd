package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"chatppt/internal/app"
	"chatppt/internal/assistant"
	"chatppt/internal/config"
	"chatppt/internal/integrations/paramstore"
	"chatppt/internal/repository"
	"chatppt/internal/storage"
	"chatppt/internal/usecase"
)

type globalFlags struct {
	badgerDir  string
	storageDir string
	paramDir   string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "chatppt",
		Short: "Generate presentations from text, audio and documents",
		Long: `chatppt - turn a topic, recordings or a Word document into a slide deck.

Each command acts on one session. submit starts a session when --session is
omitted and prints its id; augment adds pictures to the latest draft; render
writes the latest draft to a .pptx file; history shows every draft.

Configuration comes from the environment (RENDERER_URL is required).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.badgerDir, "badger-dir", "", "history database directory (overrides BADGER_DIR)")
	root.PersistentFlags().StringVar(&flags.storageDir, "storage-dir", "", "file storage root (overrides STORAGE_DIR)")
	root.PersistentFlags().StringVar(&flags.paramDir, "param-dir", "", "prompt and secret directory (overrides PARAM_DIR)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newSubmitCmd(flags),
		newSessionCmd(flags, "augment", "Add pictures to the latest draft", func(ctx context.Context, svc *usecase.Service, id string) (any, error) {
			out, err := svc.Augment(ctx, usecase.SessionInput{SessionID: id})
			if err != nil {
				return nil, err
			}
			return map[string]any{"sessionId": out.SessionID, "history": out.History, "images": out.Images}, nil
		}),
		newSessionCmd(flags, "render", "Render the latest draft to a presentation file", func(ctx context.Context, svc *usecase.Service, id string) (any, error) {
			out, err := svc.Render(ctx, usecase.SessionInput{SessionID: id})
			if err != nil {
				return nil, err
			}
			return map[string]any{"sessionId": out.SessionID, "file": out.Path, "title": out.Presentation.Title}, nil
		}),
		newSessionCmd(flags, "history", "Show the session's drafts and state", func(ctx context.Context, svc *usecase.Service, id string) (any, error) {
			out, err := svc.History(ctx, usecase.SessionInput{SessionID: id})
			if err != nil {
				return nil, err
			}
			return map[string]any{"sessionId": out.SessionID, "state": out.State, "history": out.History}, nil
		}),
	)
	return root
}

func newSubmitCmd(flags *globalFlags) *cobra.Command {
	var (
		sessionID string
		text      string
		files     []string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Generate a draft from text, audio or a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, flags, func(ctx context.Context, svc *usecase.Service) (any, error) {
				msg, err := messageFrom(text, files)
				if err != nil {
					return nil, err
				}
				out, err := svc.Submit(ctx, usecase.SubmitInput{SessionID: sessionID, Message: msg})
				if err != nil {
					return nil, err
				}
				return map[string]any{"sessionId": out.SessionID, "turn": out.Turn}, nil
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (new session when empty)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "topic or requirement text")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "uploaded file path, repeatable")
	return cmd
}

func newSessionCmd(flags *globalFlags, use, short string, run func(context.Context, *usecase.Service, string) (any, error)) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, flags, func(ctx context.Context, svc *usecase.Service) (any, error) {
				return run(ctx, svc, sessionID)
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// withService builds the local pipeline, runs fn and prints its result as
// JSON. Pipeline failures print the user-facing message to stderr.
func withService(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *usecase.Service) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags.apply(cfg)

	logger := app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	store, err := repository.NewBadger(repository.BadgerOptions{Dir: cfg.BadgerDir, TTL: cfg.HistoryTTL})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	files, err := storage.NewLocal(cfg.StorageDir, storage.WithAbsolutePaths())
	if err != nil {
		return err
	}
	params, err := loadParams(ctx, cfg)
	if err != nil {
		return err
	}
	svc, err := app.NewService(cfg, app.Backends{Store: store, Files: files, Params: params, Logger: logger})
	if err != nil {
		return err
	}

	out, err := fn(ctx, svc)
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) {
			fmt.Fprintln(cmd.ErrOrStderr(), usecase.UserMessage(err))
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func (f *globalFlags) apply(cfg *config.Config) {
	if f.badgerDir != "" {
		cfg.BadgerDir = f.badgerDir
	}
	if f.storageDir != "" {
		cfg.StorageDir = f.storageDir
	}
	if f.paramDir != "" {
		cfg.ParamDir = f.paramDir
	}
	if f.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
}

func loadParams(ctx context.Context, cfg *config.Config) (assistant.ParamGetter, error) {
	if cfg.ParamDir != "" {
		return paramstore.NewDir(cfg.ParamDir)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
