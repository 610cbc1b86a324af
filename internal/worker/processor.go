package worker

import (
	"context"
	"fmt"

	"github.com/imalyk/go-thumbnailer/internal/blob"
	"github.com/imalyk/go-thumbnailer/internal/thumbnail"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

type Transformer interface {
	Transform(data []byte) ([]byte, error)
}

// Processor runs the create_thumbnail task: fetch the source, shrink it and
// store the thumbnail next to the other outputs.
type Processor struct {
	store       blob.Store
	transformer Transformer
}

func NewProcessor(store blob.Store, transformer Transformer) *Processor {
	return &Processor{store: store, transformer: transformer}
}

func (p *Processor) Process(ctx context.Context, j *job.Job) Outcome {
	if j.Task != job.TaskCreateThumbnail {
		return Failed(NewPermanentError(fmt.Errorf("unknown task %q", j.Task)))
	}
	args := j.Args

	src, err := p.store.Get(ctx, args.SourceBucket, args.SourceObject)
	if err != nil {
		return Failed(fmt.Errorf("download source: %w", err))
	}

	thumb, err := p.transformer.Transform(src)
	if err != nil {
		return Failed(fmt.Errorf("create thumbnail for %s: %w", args.SourceObject, err))
	}

	if err := p.store.Put(ctx, args.OutputBucket, args.OutputObject, thumb, thumbnail.ContentType); err != nil {
		return Failed(fmt.Errorf("upload thumbnail: %w", err))
	}
	return Succeeded(args.OutputObject)
}
