package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

const (
	// ArchivePrefix is where block exports live in the bucket.
	ArchivePrefix = "archive/blocks/"

	// MetaArchiveCursor records the last exported height in contract_meta.
	MetaArchiveCursor = "archive.cursor"

	// multipartThreshold switches Put to PutMultipart.
	multipartThreshold = 8 << 20

	jsonlContentType = "application/x-ndjson"
)

// BlockLister is the slice of domain.BlockStore the archiver reads from.
type BlockLister interface {
	ListBlocks(ctx context.Context, from, to uint64) ([]domain.Block, error)
}

// Archiver implements domain.BlockArchiver. Each run exports the blocks
// after the stored cursor in files of at most batch blocks.
//
// Rows are never deleted from Postgres here; the archive is a copy.
type Archiver struct {
	writer domain.BlobWriter
	blocks BlockLister
	meta   domain.MetaStore
	audit  domain.AuditStore
	batch  uint64
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing batch blocks per file.
func NewArchiver(
	writer domain.BlobWriter,
	blocks BlockLister,
	meta domain.MetaStore,
	audit domain.AuditStore,
	batch uint64,
	logger *slog.Logger,
) *Archiver {
	if batch == 0 {
		batch = 1000
	}
	return &Archiver{
		writer: writer,
		blocks: blocks,
		meta:   meta,
		audit:  audit,
		batch:  batch,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveBlocks exports every block in (cursor, upTo]. The cursor advances
// after each uploaded file, so a failed run resumes where it stopped.
func (a *Archiver) ArchiveBlocks(ctx context.Context, upTo uint64) (int64, error) {
	cursor, err := a.cursor(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for from := cursor + 1; from <= upTo; {
		to := min(from+a.batch-1, upTo)

		blocks, err := a.blocks.ListBlocks(ctx, from, to)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive query %d-%d: %w", from, to, err)
		}
		if err := contiguous(blocks, from, to); err != nil {
			return total, err
		}

		buf, err := marshalJSONL(blocks)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive marshal %d-%d: %w", from, to, err)
		}

		path := archivePath(from, to)
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive upload %s: %w", path, err)
		}

		if err := a.meta.SetMeta(ctx, MetaArchiveCursor, strconv.FormatUint(to, 10)); err != nil {
			return total, fmt.Errorf("s3blob: archive cursor: %w", err)
		}
		total += int64(len(blocks))

		if err := a.audit.Log(ctx, "archive.blocks", map[string]any{
			"path":  path,
			"from":  from,
			"to":    to,
			"count": len(blocks),
			"bytes": len(buf),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive audit log: %w", err)
		}

		a.logger.InfoContext(ctx, "blocks archived",
			slog.String("path", path),
			slog.Uint64("from", from),
			slog.Uint64("to", to),
		)
		from = to + 1
	}
	return total, nil
}

func (a *Archiver) cursor(ctx context.Context) (uint64, error) {
	v, err := a.meta.GetMeta(ctx, MetaArchiveCursor)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cursor: %w", err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cursor %q: %w", v, err)
	}
	return n, nil
}

func contiguous(blocks []domain.Block, from, to uint64) error {
	if uint64(len(blocks)) != to-from+1 {
		return fmt.Errorf("s3blob: archive range %d-%d has %d blocks", from, to, len(blocks))
	}
	for i, b := range blocks {
		if b.Height != from+uint64(i) {
			return fmt.Errorf("s3blob: archive range %d-%d: unexpected height %d", from, to, b.Height)
		}
	}
	return nil
}

// archivePath zero-pads heights so keys list in height order:
//
//	archive/blocks/000000000001-000000001000.jsonl
func archivePath(from, to uint64) string {
	return fmt.Sprintf("%s%012d-%012d.jsonl", ArchivePrefix, from, to)
}

// parseArchivePath is the inverse of archivePath.
func parseArchivePath(path string) (from, to uint64, ok bool) {
	name, found := strings.CutPrefix(path, ArchivePrefix)
	if !found {
		return 0, 0, false
	}
	name, found = strings.CutSuffix(name, ".jsonl")
	if !found {
		return 0, 0, false
	}
	lo, hi, found := strings.Cut(name, "-")
	if !found {
		return 0, 0, false
	}
	f, err1 := strconv.ParseUint(lo, 10, 64)
	t, err2 := strconv.ParseUint(hi, 10, 64)
	if err1 != nil || err2 != nil || f > t {
		return 0, 0, false
	}
	return f, t, true
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// WalkArchive streams every archived block in height order to fn, starting
// at height 1. It fails on gaps between files so replay never skips blocks.
func WalkArchive(ctx context.Context, r domain.BlobReader, fn func(domain.Block) error) (uint64, error) {
	infos, err := r.List(ctx, ArchivePrefix)
	if err != nil {
		return 0, err
	}

	type segment struct {
		path     string
		from, to uint64
	}
	var segs []segment
	for _, info := range infos {
		if from, to, ok := parseArchivePath(info.Path); ok {
			segs = append(segs, segment{info.Path, from, to})
		}
	}
	slices.SortFunc(segs, func(a, b segment) int {
		switch {
		case a.from < b.from:
			return -1
		case a.from > b.from:
			return 1
		}
		return 0
	})

	var last uint64
	for _, s := range segs {
		if s.from != last+1 {
			return last, fmt.Errorf("s3blob: archive gap after height %d (next file %s)", last, s.path)
		}
		if err := readSegment(ctx, r, s.path, func(b domain.Block) error {
			if b.Height != last+1 {
				return fmt.Errorf("s3blob: %s: height %d follows %d", s.path, b.Height, last)
			}
			last = b.Height
			return fn(b)
		}); err != nil {
			return last, err
		}
		if last != s.to {
			return last, fmt.Errorf("s3blob: %s ends at %d", s.path, last)
		}
	}
	return last, nil
}

func readSegment(ctx context.Context, r domain.BlobReader, path string, fn func(domain.Block) error) error {
	body, err := r.Get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()
	return decodeJSONL(body, fn)
}

func decodeJSONL(rd io.Reader, fn func(domain.Block) error) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64<<10), 64<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var b domain.Block
		if err := json.Unmarshal(line, &b); err != nil {
			return fmt.Errorf("s3blob: decode block: %w", err)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("s3blob: read archive: %w", err)
	}
	return nil
}

var _ domain.BlockArchiver = (*Archiver)(nil)
