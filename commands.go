package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/hanzibot/internal/api"
	"github.com/example/hanzibot/internal/bot"
	"github.com/example/hanzibot/internal/database"
	"github.com/example/hanzibot/internal/excel"
	"github.com/example/hanzibot/internal/review"
	"github.com/example/hanzibot/internal/scheduler"
	"github.com/example/hanzibot/pkg/models"
)

// newBot connects to Telegram; replaced in tests
var newBot = bot.New

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, and the Telegram bot when a token is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	db, err := a.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	store := database.NewStore(db)
	catalog := database.NewCatalog(db)
	users := database.NewUserRepository(db)
	svc := review.NewService(store, catalog, a.logger.WithPrefix("review"),
		review.WithMaxRetries(a.cfg.ReviewMaxRetries))

	server := api.NewServer(svc, users, a.logger.WithPrefix("api"), api.Options{
		DueLimit:    a.cfg.DueBatchLimit,
		CORSOrigins: a.cfg.CORSOrigins,
	})

	var b *bot.Bot
	if a.cfg.TelegramToken == "" {
		a.logger.Warn("TELEGRAM_BOT_TOKEN is not set, running the HTTP API only")
	} else {
		b, err = newBot(a.cfg.TelegramToken, svc, users, catalog, a.logger.WithPrefix("bot"), bot.DefaultConfig())
		if err != nil {
			return fmt.Errorf("failed to create bot: %w", err)
		}
	}

	if b != nil && a.cfg.EnableScheduler {
		s := scheduler.New(b, users, store, a.logger.WithPrefix("scheduler"), scheduler.Options{
			StartHour: a.cfg.NotificationStartHour,
			EndHour:   a.cfg.NotificationEndHour,
		})
		if err := s.Start(); err != nil {
			return err
		}
		defer s.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, a.cfg.HTTPAddr)
	})
	if b != nil {
		g.Go(func() error {
			if err := b.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func newImportCmd(a *app) *cobra.Command {
	var (
		kind     string
		sheet    string
		startRow int
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import characters or sentences from an Excel or CSV file",
		Long: `Import reads rows from an .xlsx or .csv file.
Characters: A hanzi, B pinyin, C meaning, D HSK level.
Sentences: A Chinese text, B pinyin, C English translation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := models.ParseKind(kind)
			if err != nil {
				return err
			}
			db, err := a.connect()
			if err != nil {
				return err
			}
			defer db.Close()

			config := excel.DefaultImportConfig(k)
			config.FilePath = args[0]
			config.SheetName = sheet
			config.StartRow = startRow

			catalog := database.NewCatalog(db)
			result, err := excel.NewImporter(catalog.Characters, catalog.Sentences).Import(cmd.Context(), config)
			if err != nil {
				return err
			}
			for _, msg := range result.Errors {
				a.logger.Warn("row not imported", "detail", msg)
			}
			size, err := catalogSize(cmd.Context(), catalog, k)
			if err != nil {
				return err
			}
			a.logger.Info("import finished", "kind", k, "processed", result.TotalProcessed,
				"created", result.Created, "updated", result.Updated, "skipped", result.Skipped,
				"errors", len(result.Errors), "catalog", size)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "characters", "characters or sentences")
	cmd.Flags().StringVar(&sheet, "sheet", "", "sheet to read, the first one by default")
	cmd.Flags().IntVar(&startRow, "start-row", 2, "first data row, 1-based")
	return cmd
}

func catalogSize(ctx context.Context, catalog *database.Catalog, kind models.ItemKind) (int, error) {
	if kind == models.KindSentence {
		return catalog.Sentences.Count(ctx)
	}
	return catalog.Characters.Count(ctx)
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		userID int64
		kind   string
		itemID int64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild an item's schedule from its review log and compare it with the stored one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := models.ParseKind(kind)
			if err != nil {
				return err
			}
			db, err := a.connect()
			if err != nil {
				return err
			}
			defer db.Close()

			svc := review.NewService(database.NewStore(db), database.NewCatalog(db), a.logger.WithPrefix("review"))
			audit, err := svc.Audit(cmd.Context(), models.ItemKey{UserID: userID, Kind: k, ItemID: itemID})
			if err != nil {
				return err
			}
			logs, err := svc.History(cmd.Context(), models.ItemKey{UserID: userID, Kind: k, ItemID: itemID})
			if err != nil {
				return err
			}
			writeAudit(cmd.OutOrStdout(), audit, logs)
			if !audit.Match {
				return errors.New("stored schedule does not match the review log")
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&kind, "kind", "characters", "characters or sentences")
	cmd.Flags().Int64Var(&itemID, "item", 0, "character or sentence id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func writeAudit(out io.Writer, audit *review.Audit, logs []models.ReviewLog) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tEVENT\tQ\tEF\tREPS\tINTERVAL\tAT")
	for i, l := range logs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%d\t%d\t%s\n", i+1, l.Event, l.Quality,
			l.EasinessAfter, l.RepetitionsAfter, l.IntervalAfter, l.ReviewedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()

	fmt.Fprintf(out, "\nstored:   EF %.2f, reps %d, interval %d\n",
		audit.Stored.EasinessFactor, audit.Stored.Repetitions, audit.Stored.Interval)
	fmt.Fprintf(out, "replayed: EF %.2f, reps %d, interval %d\n",
		audit.Replayed.EasinessFactor, audit.Replayed.Repetitions, audit.Replayed.Interval)
	if audit.Match {
		fmt.Fprintln(out, "OK")
	} else {
		fmt.Fprintln(out, "MISMATCH")
	}
}
