package corpus

import (
	"context"

	"go.uber.org/fx"
)

type Grabber interface {
	// GrabCorpusBlob returns the path of a tar.gz bundle holding the corpus
	// of a (task id, harness) pair.
	GrabCorpusBlob(ctx context.Context, taskId, harness string) (string, error)
}

var CorpusGrabbersModule = fx.Options(
	fx.Provide(NewCorpusGrabber),
	fx.Provide(NewRedisCorpusGrabber),
	fx.Provide(NewDBSeedGrabber),
	fx.Provide(NewRandomSeedGrabber),
)
