// Package maintenance reconciles the media bucket with the profile_images
// table: it reports drift, moves soft-deleted images into quarantine and
// imports objects that have no row.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/castboard/internal/mediastore"
	"github.com/alfredjeanlab/castboard/internal/metrics"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// DefaultConcurrency is how many objects are processed at once.
const DefaultConcurrency = 4

// Store is the part of the database the commands need.
type Store interface {
	ListAllProfileImages(ctx context.Context, includeDeleted bool) ([]*model.ProfileImage, error)
	AddProfileImage(ctx context.Context, img *model.ProfileImage) error
	UpsertPerson(ctx context.Context, p *model.Person) error
}

// Options controls a run.
type Options struct {
	Prefix      string // object key prefix, e.g. "profiles/"
	DryRun      bool
	Concurrency int
	Out         io.Writer // progress lines; nil discards
}

// Report is the outcome of a run. Errors counts items that failed; the run
// continues past them.
type Report struct {
	Task        string   `json:"task"`
	DryRun      bool     `json:"dry_run"`
	Objects     int      `json:"objects"`
	Rows        int      `json:"rows"`
	Orphans     []string `json:"orphans,omitempty"`     // objects without a row
	Dangling    []string `json:"dangling,omitempty"`    // live rows without an object
	Quarantine  []string `json:"quarantine,omitempty"`  // deleted rows whose object is still live
	Unparseable []string `json:"unparseable,omitempty"` // orphans with no username in the key
	Processed   int      `json:"processed"`
	Errors      int      `json:"errors"`
}

// Runner executes maintenance tasks.
type Runner struct {
	store   Store
	objects mediastore.ObjectStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(s Store, objects mediastore.ObjectStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: s, objects: objects, logger: logger, now: time.Now}
}

// diff is the comparison of bucket and table.
type diff struct {
	objects    map[string]mediastore.Object
	rows       int
	orphans    []string
	dangling   []string
	quarantine []string
}

func (r *Runner) diff(ctx context.Context, prefix string) (*diff, error) {
	objs, err := r.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	rows, err := r.store.ListAllProfileImages(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list profile images: %w", err)
	}

	d := &diff{objects: make(map[string]mediastore.Object, len(objs))}
	for _, o := range objs {
		if strings.HasPrefix(o.Key, mediastore.QuarantinePrefix) {
			continue
		}
		d.objects[o.Key] = o
	}

	known := make(map[string]bool, len(rows))
	for _, img := range rows {
		if !strings.HasPrefix(img.FilePath, prefix) {
			continue
		}
		d.rows++
		known[img.FilePath] = true
		_, present := d.objects[img.FilePath]
		switch {
		case img.DeletedAt != nil && present:
			d.quarantine = append(d.quarantine, img.FilePath)
		case img.DeletedAt == nil && !present:
			d.dangling = append(d.dangling, img.FilePath)
		}
	}
	for key := range d.objects {
		if !known[key] {
			d.orphans = append(d.orphans, key)
		}
	}
	sort.Strings(d.orphans)
	sort.Strings(d.dangling)
	sort.Strings(d.quarantine)
	return d, nil
}

func (d *diff) report(task string, opts Options) *Report {
	return &Report{
		Task:       task,
		DryRun:     opts.DryRun,
		Objects:    len(d.objects),
		Rows:       d.rows,
		Orphans:    d.orphans,
		Dangling:   d.dangling,
		Quarantine: d.quarantine,
	}
}

// Analyze compares bucket and table without changing either.
func (r *Runner) Analyze(ctx context.Context, opts Options) (*Report, error) {
	d, err := r.diff(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	rep := d.report("analyze", opts)
	rep.DryRun = true
	out := progress(opts.Out)
	fmt.Fprintf(out, "objects: %d, rows: %d\n", rep.Objects, rep.Rows)
	fmt.Fprintf(out, "orphaned objects: %d\n", len(rep.Orphans))
	fmt.Fprintf(out, "dangling rows: %d\n", len(rep.Dangling))
	fmt.Fprintf(out, "awaiting quarantine: %d\n", len(rep.Quarantine))
	return rep, nil
}

// Quarantine moves the objects of soft-deleted rows under the quarantine
// prefix: copy, then delete the original.
func (r *Runner) Quarantine(ctx context.Context, opts Options) (*Report, error) {
	d, err := r.diff(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	rep := d.report("quarantine", opts)
	err = r.forEach(ctx, opts, rep, d.quarantine, func(ctx context.Context, key string) error {
		if opts.DryRun {
			return nil
		}
		if err := r.objects.Copy(ctx, key, mediastore.QuarantineKey(key)); err != nil {
			return err
		}
		return r.objects.Delete(ctx, key)
	})
	return rep, err
}

// Import creates profile_images rows for orphaned objects whose key names a
// username, creating the person when needed.
func (r *Runner) Import(ctx context.Context, opts Options) (*Report, error) {
	d, err := r.diff(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	rep := d.report("import", opts)

	var importable []string
	for _, key := range d.orphans {
		if user := mediastore.UsernameFromKey(opts.Prefix, key); !model.ValidUsername(user) {
			rep.Unparseable = append(rep.Unparseable, key)
			metrics.RecordMaintenanceItem("import", "skipped")
			continue
		}
		importable = append(importable, key)
	}

	var mu sync.Mutex
	persons := make(map[string]string) // username -> person ID
	personFor := func(ctx context.Context, username string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if id, ok := persons[username]; ok {
			return id, nil
		}
		p := model.NewPerson(username, model.RoleModel, r.now().UTC())
		if err := r.store.UpsertPerson(ctx, p); err != nil {
			return "", fmt.Errorf("upsert person %s: %w", username, err)
		}
		persons[username] = p.ID
		return p.ID, nil
	}

	err = r.forEach(ctx, opts, rep, importable, func(ctx context.Context, key string) error {
		if opts.DryRun {
			return nil
		}
		personID, err := personFor(ctx, mediastore.UsernameFromKey(opts.Prefix, key))
		if err != nil {
			return err
		}
		obj := d.objects[key]
		uploaded := obj.LastModified
		if uploaded.IsZero() {
			uploaded = r.now()
		}
		img := &model.ProfileImage{
			ID:         uuid.NewString(),
			PersonID:   personID,
			FilePath:   key,
			Source:     model.ImageImported,
			MimeType:   mediastore.ContentTypeFor(key),
			SizeBytes:  obj.Size,
			UploadedAt: uploaded.UTC(),
		}
		if err := r.store.AddProfileImage(ctx, img); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		return nil
	})
	return rep, err
}

// forEach runs fn over keys with bounded concurrency. Per-item failures are
// logged and counted; only context cancellation stops the run.
func (r *Runner) forEach(ctx context.Context, opts Options, rep *Report, keys []string, fn func(context.Context, string) error) error {
	out := progress(opts.Out)
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	verb := "done"
	if opts.DryRun {
		verb = "would process"
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := fn(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Errors++
				metrics.RecordMaintenanceItem(rep.Task, "error")
				r.logger.Error("maintenance item failed", "task", rep.Task, "key", key, "err", err)
				fmt.Fprintf(out, "[%d/%d] error %s: %v\n", i+1, len(keys), key, err)
				return nil
			}
			rep.Processed++
			metrics.RecordMaintenanceItem(rep.Task, "ok")
			fmt.Fprintf(out, "[%d/%d] %s %s\n", i+1, len(keys), verb, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d processed, %d errors\n", rep.Task, rep.Processed, rep.Errors)
	return nil
}

func progress(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
