package service

import (
	"context"
	"errors"
	"os"
	"time"

	"algohub/internal/algorithm/model"
	appErr "algohub/pkg/errors"
	"algohub/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

// afterBuild archives the fresh artifact and announces the build. The caller
// holds the submission lock, so the upload cannot interleave with a later
// update or remove of the same submission. Only the announcement runs in the
// background. A failure is logged and never fails the operation.
func (s *Service) afterBuild(ctx context.Context, sub *model.Submission, exe string) {
	key := ""
	if s.archive != nil {
		actx, cancel := s.detached(ctx)
		archived, err := s.archive.Archive(actx, sub.UserID, sub.ID, sub.Name, exe)
		cancel()
		if err != nil {
			logger.Warn(ctx, "archive artifact failed", zap.Error(err))
		} else {
			key = archived
		}
	}
	s.notify(ctx, sub, model.EventBuildSucceeded, appErr.Success, key)
}

// notify publishes a lifecycle event in the background.
func (s *Service) notify(ctx context.Context, sub *model.Submission, eventType string, status appErr.ErrorCode, artifactKey string) {
	if s.events == nil {
		return
	}
	snapshot := sub.Clone()
	bg, cancel := s.detached(ctx)
	s.goSafe(func() {
		defer cancel()
		s.publish(bg, snapshot, eventType, status, artifactKey)
	})
}

func (s *Service) publish(ctx context.Context, sub *model.Submission, eventType string, status appErr.ErrorCode, artifactKey string) {
	if s.events == nil {
		return
	}
	event := model.LifecycleEvent{
		EventType:    eventType,
		SubmissionID: sub.ID,
		Name:         sub.Name,
		UserID:       sub.UserID,
		Language:     sub.Language,
		Status:       int(status),
		ArtifactKey:  artifactKey,
		OccurredAt:   time.Now().UTC(),
	}
	if err := s.events.PublishLifecycle(ctx, event); err != nil {
		logger.Warn(ctx, "publish lifecycle event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

// restoreIfMissing pulls an archived artifact back when the workspace lost it.
func (s *Service) restoreIfMissing(ctx context.Context, sub *model.Submission, exe string) {
	if s.archive == nil {
		return
	}
	if _, err := os.Stat(exe); !errors.Is(err, os.ErrNotExist) {
		return
	}
	ws, err := s.workspace.Resolve(sub.UserID, sub.ID)
	if err != nil {
		return
	}
	if err := s.workspace.Ensure(ws); err != nil {
		logger.Warn(ctx, "prepare workspace for restore failed", zap.Error(err))
		return
	}
	key := s.archive.Key(sub.UserID, sub.ID, sub.Name)
	if err := s.archive.Restore(ctx, key, exe); err != nil {
		logger.Warn(ctx, "restore archived artifact failed", zap.String("key", key), zap.Error(err))
		return
	}
	logger.Info(ctx, "artifact restored from archive", zap.String("key", key))
}

func (s *Service) goSafe(fn func()) {
	s.bg.Add(1)
	threading.GoSafe(func() {
		defer s.bg.Done()
		fn()
	})
}

// Close waits for background publish work to finish.
func (s *Service) Close() {
	s.bg.Wait()
}
