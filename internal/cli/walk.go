package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/internal/speech"
	"github.com/yegors/shiftcheck/internal/storage/sqlite"
	"github.com/yegors/shiftcheck/pkg/logger"
)

func init() {
	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Run a guided walk in the terminal, typing each answer",
		Long: "Prints each prompt and reads one line per answer. An empty line counts as silence. " +
			"The items file is a JSON array of {id, text, critical, size_ml, par_level}.",
		Run: runWalk,
	}

	cmd.Flags().StringP("mode", "m", string(guide.ModeAudit), "Walk mode: audit or inventory")
	cmd.Flags().StringP("items", "i", "", "Items JSON file (required)")
	cmd.Flags().String("db", "", "Database path (overrides storage.sqlite_path)")

	cmd.MarkFlagRequired("items")

	RootCmd.AddCommand(cmd)
}

// walkSummary is printed when the walk ends
type walkSummary struct {
	SessionID string               `json:"session_id"`
	Outcome   guide.Outcome        `json:"outcome"`
	Counts    map[guide.Status]int `json:"counts"`
	Responses []guide.Response     `json:"responses"`
}

func runWalk(cmd *cobra.Command, args []string) {
	mode, _ := cmd.Flags().GetString("mode")
	itemsPath, _ := cmd.Flags().GetString("items")
	dbPath, _ := cmd.Flags().GetString("db")

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.Storage.SQLitePath = dbPath
	}

	// Prompts own stdout
	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		exitErr("create logger", err)
	}
	defer log.Sync()

	session, err := readSession(guide.Mode(mode), itemsPath)
	if err != nil {
		exitErr("read items", err)
	}

	store, err := sqlite.NewStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Sessions.CreateSession(ctx, session); err != nil {
		exitErr("create session", err)
	}

	console := speech.NewConsole(os.Stdin, os.Stdout, log)
	mic := speech.NewMicrophone(console)
	lease, err := mic.Acquire("walk " + session.ID)
	if err != nil {
		exitErr("acquire microphone", err)
	}
	defer lease.Release()

	ctrl, err := guide.NewController(guide.Options{
		Session:  session,
		Speaker:  console,
		Listener: lease,
		Store:    store.Responses,
		Config:   cfg.Guide.Controller(),
		Logger:   log,
	})
	if err != nil {
		exitErr("start walk", err)
	}
	// Nothing more can be typed once stdin closes
	console.OnClosed(ctrl.Stop)

	outcome, err := ctrl.Run(ctx)
	if err != nil {
		exitErr("walk", err)
	}
	lease.Release()

	// The walk may have been interrupted; the summary still gets written
	ctx = cmd.Context()
	if err := store.Sessions.MarkEnded(ctx, session.ID, outcome); err != nil {
		log.Error("Failed to mark session ended", logger.Error(err))
	}

	responses, err := store.Responses.GetResponses(ctx, session.ID)
	if err != nil {
		exitErr("get responses", err)
	}
	counts, err := store.Responses.CountByStatus(ctx, session.ID)
	if err != nil {
		exitErr("count responses", err)
	}

	b, _ := json.MarshalIndent(walkSummary{
		SessionID: session.ID,
		Outcome:   outcome,
		Counts:    counts,
		Responses: responses,
	}, "", "  ")
	fmt.Println(string(b))
}

// readSession loads the items file into a new session
func readSession(mode guide.Mode, path string) (guide.Session, error) {
	if !mode.Valid() {
		return guide.Session{}, fmt.Errorf("unknown mode %q", mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return guide.Session{}, fmt.Errorf("failed to read items file: %w", err)
	}

	var items []guide.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return guide.Session{}, fmt.Errorf("failed to parse items file: %w", err)
	}

	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if item.ID == "" {
			return guide.Session{}, fmt.Errorf("item %d has no id", i)
		}
		if seen[item.ID] {
			return guide.Session{}, fmt.Errorf("duplicate item id %q", item.ID)
		}
		seen[item.ID] = true
	}

	return guide.Session{
		ID:    uuid.NewString(),
		Mode:  mode,
		Items: items,
	}, nil
}
