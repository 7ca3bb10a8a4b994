package photo

import (
	"context"
	"fmt"
	"time"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/internal/storage/sqlite"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// ProviderManual is logged when photos are stored without analysis
const ProviderManual = "manual"

// Storer persists photo bytes and returns where they went
type Storer interface {
	Save(sessionID, itemID string, image []byte, mime string) (string, error)
}

// LogStore records analyzed photos
type LogStore interface {
	StorePhotoLog(ctx context.Context, record *sqlite.PhotoLogRecord) (int64, error)
}

// Observer is told about every review
type Observer interface {
	PhotoReviewed(mode guide.Mode, provider string, took time.Duration, err error)
}

// ReviewerOptions wires a Reviewer
type ReviewerOptions struct {
	Store         Storer
	Analyzer      Analyzer // nil disables analysis
	Logs          LogStore // optional
	Observer      Observer // optional
	MinConfidence float64
	MaxBytes      int
	Logger        *logger.Logger
}

// Reviewer stores a photo, analyzes it and proposes per-item updates for
// the user to confirm
type Reviewer struct {
	store         Storer
	analyzer      Analyzer
	logs          LogStore
	observer      Observer
	minConfidence float64
	maxBytes      int
	logger        *logger.Logger
}

// NewReviewer creates a new photo reviewer
func NewReviewer(opts ReviewerOptions) (*Reviewer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("photo store is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Reviewer{
		store:         opts.Store,
		analyzer:      opts.Analyzer,
		logs:          opts.Logs,
		observer:      opts.Observer,
		minConfidence: opts.MinConfidence,
		maxBytes:      opts.MaxBytes,
		logger:        log.Named("photo"),
	}, nil
}

// Review handles one photo taken while the walk is on item. The returned
// result always has Kind updates; an empty map means nothing to change.
func (r *Reviewer) Review(ctx context.Context, session guide.Session, item guide.Item, image []byte, mime string) (guide.PhotoResult, error) {
	if r.maxBytes > 0 && len(image) > r.maxBytes {
		return guide.PhotoResult{}, fmt.Errorf("photo is %d bytes, limit is %d", len(image), r.maxBytes)
	}

	// Store the photo
	path, err := r.store.Save(session.ID, item.ID, image, mime)
	if err != nil {
		return guide.PhotoResult{}, fmt.Errorf("failed to store photo: %w", err)
	}

	log := r.logger.WithSession(session.ID).With(
		logger.String("item_id", item.ID),
		logger.String("path", path))

	if r.analyzer == nil {
		log.Info("Stored photo for manual review")
		r.record(ctx, log, &sqlite.PhotoLogRecord{
			SessionID: session.ID,
			ItemID:    item.ID,
			PhotoPath: path,
			Provider:  ProviderManual,
		})
		return guide.Updates(nil), nil
	}

	// Analyze the photo
	start := time.Now()
	analysis, err := r.analyzer.Analyze(ctx, Request{Mode: session.Mode, Item: item, Image: image, MIME: mime})
	if r.observer != nil {
		r.observer.PhotoReviewed(session.Mode, r.analyzer.Provider(), time.Since(start), err)
	}
	if err != nil {
		return guide.PhotoResult{}, err
	}

	r.record(ctx, log, &sqlite.PhotoLogRecord{
		SessionID: session.ID,
		ItemID:    item.ID,
		PhotoPath: path,
		Provider:  r.analyzer.Provider(),
		Result:    analysis.Raw,
	})

	// Map the analysis to item updates
	var updates map[string]guide.Delta
	if session.Mode == guide.ModeInventory {
		var unmatched []Detection
		updates, unmatched = MatchDetections(analysis.Detections, session.Items, r.minConfidence)
		if len(unmatched) > 0 {
			log.Info("Some detections matched no item", logger.Int("unmatched", len(unmatched)))
		}
	} else {
		updates = AuditDeltas(analysis, item)
	}

	log.Info("Reviewed photo",
		logger.String("provider", r.analyzer.Provider()),
		logger.Int("updates", len(updates)))

	return guide.Updates(updates), nil
}

// record writes a photo log row. A failed write does not fail the review.
func (r *Reviewer) record(ctx context.Context, log *logger.Logger, record *sqlite.PhotoLogRecord) {
	if r.logs == nil {
		return
	}
	if _, err := r.logs.StorePhotoLog(ctx, record); err != nil {
		log.Error("Failed to store photo log", logger.Error(err))
	}
}
