package app

import (
	"context"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/types"
)

// HandleStorageEvent keeps the item index in step with the repository and
// inspects the target of a create, copy or move from scratch when it is in
// scope. Copied and moved items arrive with the source's properties, which
// are discarded first.
func (s Service) HandleStorageEvent(ctx context.Context, event types.StorageEvent) (StorageEventResult, error) {
	if event.Ref.IsRepoRoot() {
		return StorageEventResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("storage event target path is required")
	}
	switch event.Kind {
	case types.StorageEventCreated, types.StorageEventCopied, types.StorageEventMoved:
	default:
		return StorageEventResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unsupported storage event: " + string(event.Kind))
	}
	logger := log.Ctx(ctx).With().Str("event", string(event.Kind)).Str("artifact", event.Ref.String()).Logger()
	ctx = logger.WithContext(ctx)
	if err := s.indexEvent(ctx, event); err != nil {
		return StorageEventResult{}, err
	}
	if !s.Config.Inspection.Enabled {
		return StorageEventResult{}, nil
	}
	inspector := s.inspector()
	should, err := inspector.ShouldInspect(ctx, event.Ref)
	if err != nil {
		return StorageEventResult{}, err
	}
	if !should {
		logger.Debug().Msg("artifact is not inspected: missing, unconfigured repository or no matching pattern")
		return StorageEventResult{}, nil
	}
	if err := s.clearItem(ctx, event.Ref, nil); err != nil {
		return StorageEventResult{}, err
	}
	status, err := inspector.IdentifyAndSubmit(ctx, event.Ref)
	return StorageEventResult{Inspected: true, Status: status}, err
}

func (s Service) indexEvent(ctx context.Context, event types.StorageEvent) error {
	if s.Items == nil {
		return nil
	}
	if event.Kind == types.StorageEventCreated {
		return s.Items.PutItem(ctx, types.ItemInfo{Ref: event.Ref, LastModified: s.Clock()})
	}
	if event.Source.IsRepoRoot() {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("storage event source path is required for " + string(event.Kind))
	}
	if event.Kind == types.StorageEventCopied {
		return s.Items.CopyItem(ctx, event.Source, event.Ref)
	}
	return s.Items.MoveItem(ctx, event.Source, event.Ref)
}
