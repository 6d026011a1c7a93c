package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scanmark/scanmark/internal/handler"
	appI18n "github.com/scanmark/scanmark/internal/i18n"
	"github.com/scanmark/scanmark/internal/model"
	"github.com/scanmark/scanmark/internal/scoring"
	"github.com/scanmark/scanmark/internal/sheet"
	"github.com/scanmark/scanmark/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scanmark",
		Short: "Grade optically scanned bubble-sheet exams against answer keys",
	}

	score := scoreCmd()
	root.AddCommand(score, serveCmd(), runsCmd())

	// Make "score" the default when no subcommand is given.
	root.RunE = score.RunE

	// Register score flags on root so bare `scanmark --responses ...` still works.
	root.Flags().AddFlagSet(score.Flags())
	_ = root.MarkFlagRequired("responses")
	_ = root.MarkFlagRequired("keys")

	return root
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a responses CSV against an answer key CSV",
		RunE:  runScore,
	}
	f := cmd.Flags()
	f.StringP("responses", "r", "", "Path to the scanned responses CSV (required)")
	f.StringP("keys", "k", "", "Path to the answer keys CSV (required)")
	f.String("formmap", "", "Form arrangement map CSV; reorders answers per form before scoring")
	f.StringP("output", "o", ".", "Directory to write the scored CSV to")
	f.String("basename", "scored", "Base name of the output file")
	f.BoolP("sort", "s", false, "Sort output by students' name")
	f.String("empty-as", "", "Replacement value for blank answer cells")
	f.Bool("transpose", false, "Write the output with rows and columns swapped")
	f.Bool("disable-timestamps", false, "Disable timestamps in output file names; existing files are overwritten")
	f.String("archive", "", "SQLite database path for the run archive (empty = no archive)")
	f.StringP("lang", "l", "en", "Language for run summaries (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("responses")
	_ = cmd.MarkFlagRequired("keys")

	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP scoring service",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "scanmark.db", "SQLite database path for the run archive (empty = no archive)")
	f.String("api-password", "", "API password for basic auth (or set SCANMARK_API_PASSWORD; empty disables auth)")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived scoring runs or export one as JSON",
		RunE:  runRuns,
	}
	f := cmd.Flags()
	f.String("db", "scanmark.db", "SQLite database path of the run archive")
	f.String("run-id", "", "Export a single run (with per-row results) as JSON")
	f.StringP("output", "o", "-", "Output file path for --run-id (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SCANMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("scanmark")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/scanmark")
	v.AddConfigPath("/etc/scanmark")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runScore(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang))

	responsesPath := v.GetString("responses")
	keysPath := v.GetString("keys")

	responses, err := readSheetFile(responsesPath)
	if err != nil {
		return fmt.Errorf("read responses: %w", err)
	}
	keys, err := readSheetFile(keysPath)
	if err != nil {
		return fmt.Errorf("read keys: %w", err)
	}

	if formmap := v.GetString("formmap"); formmap != "" {
		arrangement, err := readSheetFile(formmap)
		if err != nil {
			return fmt.Errorf("read form map: %w", err)
		}
		if err := responses.Reorder(arrangement); err != nil {
			return fmt.Errorf("apply form map: %w", err)
		}
	}
	responses.CleanUp(v.GetString("empty-as"))

	scored, err := scoring.Score(responses, keys)
	if err != nil {
		return err
	}
	if v.GetBool("sort") {
		scored.SortByName()
	}

	var ts *time.Time
	if !v.GetBool("disable-timestamps") {
		now := time.Now().Truncate(time.Second)
		ts = &now
	}
	name := sheet.FormatTimestampForFile(ts) + v.GetString("basename") + ".csv"
	outPath := filepath.Join(v.GetString("output"), name)
	if err := writeSheetFile(scored, outPath, v.GetBool("transpose")); err != nil {
		return fmt.Errorf("write scored sheet: %w", err)
	}

	missing := scoring.MissingKeyCount(scored)
	if dbPath := v.GetString("archive"); dbPath != "" {
		runID, err := archiveRun(dbPath, responsesPath, keysPath, scored, missing)
		if err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
		fmt.Println(appI18n.Td(ctx, "RunArchived", map[string]any{"ID": runID}))
	}

	fmt.Println(appI18n.Tp(ctx, "SheetsScored", scored.RowCount()))
	if missing > 0 {
		fmt.Println(appI18n.Tp(ctx, "SheetsMissingKey", missing))
	}
	fmt.Println(appI18n.Td(ctx, "ResultsSaved", map[string]any{"Path": outPath}))
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var db *store.Store
	if dbPath := v.GetString("db"); dbPath != "" {
		var err error
		db, err = store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
	}

	h, err := handler.New(db, model.ServeConfig{
		Addr:        v.GetString("addr"),
		APIPassword: v.GetString("api-password"),
		Lang:        lang,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"archive", v.GetString("db") != "",
		"auth", v.GetString("api-password") != "",
	)
	return http.ListenAndServe(addr, r)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if runID := v.GetString("run-id"); runID != "" {
		return exportRun(db, runID, v.GetString("output"))
	}

	runs, err := db.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	lastID, err := db.LastRunID()
	if err != nil {
		return fmt.Errorf("read last run: %w", err)
	}
	for _, run := range runs {
		marker := " "
		if run.ID == lastID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  rows=%d questions=%d missing-key=%d  %s / %s\n",
			marker, run.ID, run.CreatedAt.Format(time.RFC3339),
			run.NumRows, run.NumQuestions, run.NumMissingKey,
			run.ResponsesFile, run.KeysFile)
	}
	return nil
}

func exportRun(db *store.Store, runID, outPath string) error {
	view, err := db.GetRunView(runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func archiveRun(dbPath, responsesPath, keysPath string, scored *sheet.Sheet, missing int) (string, error) {
	db, err := store.New(dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	run := model.Run{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now(),
		ResponsesFile: filepath.Base(responsesPath),
		KeysFile:      filepath.Base(keysPath),
		NumQuestions:  scored.NumQuestions,
		NumRows:       scored.RowCount(),
		NumMissingKey: missing,
	}
	if err := db.SaveRun(run, store.ResultsFromSheet(run.ID, scored)); err != nil {
		return "", err
	}
	return run.ID, nil
}

func readSheetFile(path string) (*sheet.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sheet.Read(f)
}

func writeSheetFile(s *sheet.Sheet, path string, transpose bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if transpose {
		return s.WriteCSVTransposed(f)
	}
	return s.WriteCSV(f)
}
