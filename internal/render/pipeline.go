package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/MithilHassan/kbt-express/internal/barcode"
	"github.com/MithilHassan/kbt-express/internal/booking"
	"github.com/MithilHassan/kbt-express/internal/document"
	jobmetrics "github.com/MithilHassan/kbt-express/internal/jobs"
	"github.com/MithilHassan/kbt-express/internal/platform/cache"
	"github.com/MithilHassan/kbt-express/internal/status"
)

// ContentType of generated documents.
const ContentType = "application/pdf"

const jobName = "document.render"

// Source loads the data a document is built from.
type Source interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	ListHistory(ctx context.Context, bookingID uuid.UUID) ([]status.Entry, error)
}

// File is a generated document.
type File struct {
	Name  string
	Data  []byte
	Pages int
}

// Options tunes the pipeline.
type Options struct {
	// Workers bounds concurrent renders. Zero selects GOMAXPROCS.
	Workers int
	// Timeout bounds one render. Zero disables the bound.
	Timeout time.Duration
	// BleedMM is passed to the Assembler.
	BleedMM float64
}

// Pipeline produces the two-page booking PDF.
type Pipeline struct {
	source    Source
	composer  *document.Composer
	encoder   *barcode.Encoder
	raster    *Rasterizer
	assembler *Assembler
	cache     *cache.Store
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger

	sem     *semaphore.Weighted
	group   singleflight.Group
	timeout time.Duration
}

// NewPipeline wires the pipeline. cache and metrics may be nil.
func NewPipeline(source Source, composer *document.Composer, encoder *barcode.Encoder, raster *Rasterizer, store *cache.Store, metrics *jobmetrics.Metrics, logger *slog.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		source:    source,
		composer:  composer,
		encoder:   encoder,
		raster:    raster,
		assembler: NewAssembler(opts.BleedMM),
		cache:     store,
		metrics:   metrics,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(workers)),
		timeout:   opts.Timeout,
	}
}

// Filename returns the download name for a booking number.
func Filename(bookingNumber string) string {
	return "booking-" + bookingNumber + ".pdf"
}

// CacheKey identifies a render of a booking revision.
func (p *Pipeline) CacheKey(id uuid.UUID, updatedAt time.Time) string {
	return p.cache.Key(id.String(), strconv.FormatInt(updatedAt.UnixNano(), 10))
}

// Generate returns the booking PDF, rendering it when no cached copy exists
// for the current revision.
func (p *Pipeline) Generate(ctx context.Context, id uuid.UUID) (File, error) {
	b, err := p.source.GetBooking(ctx, id)
	if err != nil {
		return File{}, err
	}
	name := Filename(b.BookingNumber)
	key := p.CacheKey(b.ID, b.UpdatedAt)

	data, ok, err := p.cache.Bytes(ctx, key)
	if err != nil {
		p.logger.Warn("document cache read failed", slog.String("booking_number", b.BookingNumber), slog.Any("error", err))
	}
	if ok {
		p.metrics.CacheResult(jobmetrics.CacheHit)
		return File{Name: name, Data: data, Pages: 2}, nil
	}
	p.metrics.CacheResult(jobmetrics.CacheMiss)

	ch := p.group.DoChan(key, func() (interface{}, error) {
		return p.render(ctx, b, key)
	})
	select {
	case <-ctx.Done():
		return File{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// The shared render belonged to a caller that went away.
			if isContextErr(res.Err) && ctx.Err() == nil {
				f, err := p.render(ctx, b, key)
				if err != nil {
					return File{}, err
				}
				f.Name = name
				return f, nil
			}
			return File{}, res.Err
		}
		f := res.Val.(File)
		f.Name = name
		return f, nil
	}
}

// RenderDocument adapts Generate to the booking handler.
func (p *Pipeline) RenderDocument(ctx context.Context, id uuid.UUID) (booking.DocumentFile, error) {
	f, err := p.Generate(ctx, id)
	if err != nil {
		return booking.DocumentFile{}, err
	}
	return booking.DocumentFile{Name: f.Name, ContentType: ContentType, Data: f.Data}, nil
}

func (p *Pipeline) render(ctx context.Context, b *booking.Booking, key string) (f File, err error) {
	tracker := p.metrics.Track(jobName)
	defer func() { _ = tracker.End(err) }()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return File{}, err
	}
	defer p.sem.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	history, err := p.source.ListHistory(ctx, b.ID)
	if err != nil {
		if isContextErr(err) {
			return File{}, err
		}
		p.logger.Warn("document history unavailable", slog.String("booking_number", b.BookingNumber), slog.Any("error", err))
		history = nil
	}

	model := p.composer.Compose(*b, b.Packages, history)
	symbol, err := p.encoder.Encode(model.TrackingID)
	if err != nil {
		p.logger.Warn("barcode fallback to text", slog.String("booking_number", b.BookingNumber), slog.Any("error", err))
	}

	pages := model.Pages()
	rasters := make([]*image.Gray, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	for i, page := range pages {
		g.Go(func() error {
			img, err := p.raster.Render(gctx, page, symbol)
			if err != nil {
				return fmt.Errorf("rasterize %s: %w", page.Kind, err)
			}
			rasters[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return File{}, err
	}

	data, err := p.assembler.Assemble(rasters)
	if err != nil {
		return File{}, err
	}
	if err := p.cache.SetBytes(ctx, key, data); err != nil {
		p.logger.Warn("document cache write failed", slog.String("booking_number", b.BookingNumber), slog.Any("error", err))
	}
	p.logger.Info("document rendered",
		slog.String("booking_number", b.BookingNumber),
		slog.Int("pages", len(pages)),
		slog.Int("bytes", len(data)),
	)
	return File{Data: data, Pages: len(pages)}, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
