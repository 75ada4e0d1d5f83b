package service

import (
	"context"
	"errors"
	"os"
	"strings"

	"algohub/internal/algorithm/buildbot"
	"algohub/internal/algorithm/language"
	"algohub/internal/algorithm/model"
	"algohub/internal/algorithm/repository"
	"algohub/internal/algorithm/testbot"
	"algohub/internal/algorithm/workspace"
	appErr "algohub/pkg/errors"
	"algohub/pkg/utils/contextkey"
	"algohub/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxNameLength = 128

// CreateRequest registers and builds a new submission.
type CreateRequest struct {
	Name         string
	Description  string
	UserID       string
	Language     string
	SourceCode   []byte
	BuildOptions string
	Price        int64
	Tags         []string
	// TestDataID references an existing test data record.
	TestDataID int64
	// TestData creates a record owned by this submission. It wins over TestDataID.
	// Only owned records are deleted with the submission.
	TestData *TestDataInput
}

// TestDataInput is the content of a test data record.
type TestDataInput struct {
	RunOptions string
	Input      []byte
}

// UpdateRequest changes a submission. Nil fields are kept.
type UpdateRequest struct {
	Description  *string
	Language     *string
	SourceCode   []byte
	BuildOptions *string
	Price        *int64
	Tags         *[]string
	TestData     *TestDataInput
}

// Create registers the submission and builds it. An unknown language is
// reported as LanguageNotFound with no side effects. When the build does not
// succeed every trace of the submission is removed again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.BuildResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateName(req.Name); err != nil {
		return model.BuildResult{}, err
	}
	if err := workspace.ValidateUserID(req.UserID); err != nil {
		return model.BuildResult{}, err
	}
	if _, err := language.SplitBuildOptions(req.BuildOptions); err != nil {
		return model.BuildResult{}, err
	}
	backend, ok := s.registry.Resolve(req.Language)
	if !ok {
		logger.Info(ctx, "create rejected: language not supported", zap.String("name", req.Name), zap.String("language", req.Language))
		return model.BuildResult{Status: appErr.LanguageNotFound}, nil
	}

	unlock, err := s.lock(ctx, req.Name)
	if err != nil {
		return model.BuildResult{}, err
	}
	defer unlock()
	ctx = context.WithValue(ctx, contextkey.Submission, req.Name)

	id, err := s.nextID()
	if err != nil {
		return model.BuildResult{}, err
	}
	statusID, err := s.nextID()
	if err != nil {
		return model.BuildResult{}, err
	}
	sub := &model.Submission{
		ID:           id,
		Name:         req.Name,
		Description:  req.Description,
		UserID:       req.UserID,
		Language:     req.Language,
		SourceCode:   req.SourceCode,
		BuildOptions: req.BuildOptions,
		TestDataID:   req.TestDataID,
		StatusID:     statusID,
		Price:        req.Price,
		Tags:         model.NormalizeTags(req.Tags),
	}

	ownsTestData := false
	if req.TestData != nil {
		if sub.TestDataID, err = s.nextID(); err != nil {
			return model.BuildResult{}, err
		}
		td := &model.TestData{ID: sub.TestDataID, RunOptions: req.TestData.RunOptions, Input: req.TestData.Input, OwnerID: sub.ID}
		if err := s.store.SaveTestData(ctx, td); err != nil {
			return model.BuildResult{}, storeError(err, sub.Name)
		}
		ownsTestData = true
	}

	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		if ownsTestData {
			cctx, cancel := s.detached(ctx)
			if delErr := s.store.DeleteTestData(cctx, sub.TestDataID); delErr != nil {
				logger.Warn(ctx, "drop test data of rejected submission failed", zap.Error(delErr))
			}
			cancel()
		}
		return model.BuildResult{}, storeError(err, sub.Name)
	}

	ws, src, exe, err := s.paths(sub, backend)
	if err != nil {
		return model.BuildResult{}, s.rollback(ctx, sub, workspace.Workspace{}, ownsTestData, err)
	}
	s.saveStatus(ctx, sub.StatusID, model.PhaseBuilding, appErr.Success, "")
	if err := s.workspace.Ensure(ws); err != nil {
		return model.BuildResult{}, s.rollback(ctx, sub, ws, ownsTestData, err)
	}

	res, err := s.build(ctx, buildbot.BuildRequest{
		Backend:        backend,
		SourcePath:     src,
		ExecutablePath: exe,
		Source:         sub.SourceCode,
		BuildOptions:   sub.BuildOptions,
	})
	if err != nil {
		return model.BuildResult{}, s.rollback(ctx, sub, ws, ownsTestData, err)
	}
	if !res.OK() {
		logger.Info(ctx, "build failed, rolling back", zap.Int("exit_code", res.ExitCode), zap.Bool("timed_out", res.TimedOut))
		if rbErr := s.rollback(ctx, sub, ws, ownsTestData, nil); rbErr != nil {
			return res, rbErr
		}
		s.notify(ctx, sub, model.EventBuildFailed, res.Status, "")
		return res, nil
	}

	s.saveStatus(ctx, sub.StatusID, model.PhaseBuilt, appErr.Success, "")
	s.afterBuild(ctx, sub, exe)
	logger.Info(ctx, "submission created", zap.Int64("id", sub.ID), zap.String("language", sub.Language))
	return res, nil
}

// Update applies req and rebuilds. Tags are replaced right away; the other
// fields are only persisted when the rebuild succeeds. A failed rebuild is
// handed to the configured failure policy.
func (s *Service) Update(ctx context.Context, name string, req UpdateRequest) (model.BuildResult, error) {
	if req.BuildOptions != nil {
		if _, err := language.SplitBuildOptions(*req.BuildOptions); err != nil {
			return model.BuildResult{}, err
		}
	}
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return model.BuildResult{}, err
	}
	defer unlock()
	ctx = context.WithValue(ctx, contextkey.Submission, name)

	current, err := s.store.GetSubmissionByName(ctx, name)
	if err != nil {
		return model.BuildResult{}, storeError(err, name)
	}
	next := current.Clone()
	applyUpdate(next, req)

	if req.Tags != nil {
		if err := s.store.ReplaceTags(ctx, next.ID, next.Tags); err != nil {
			return model.BuildResult{}, storeError(err, name)
		}
		if removed, err := s.store.GarbageCollectTags(ctx); err != nil {
			logger.Warn(ctx, "garbage collect tags failed", zap.Error(err))
		} else if removed > 0 {
			logger.Debug(ctx, "orphan tags removed", zap.Int64("count", removed))
		}
	}
	if req.TestData != nil {
		// A shared record is never overwritten; the submission gets its own instead.
		exclusive, err := s.exclusiveTestData(ctx, current)
		if err != nil {
			return model.BuildResult{}, storeError(err, name)
		}
		if !exclusive {
			if next.TestDataID, err = s.nextID(); err != nil {
				return model.BuildResult{}, err
			}
		}
		td := &model.TestData{ID: next.TestDataID, RunOptions: req.TestData.RunOptions, Input: req.TestData.Input, OwnerID: next.ID}
		if err := s.store.SaveTestData(ctx, td); err != nil {
			return model.BuildResult{}, storeError(err, name)
		}
	}

	backend, ok := s.registry.Resolve(next.Language)
	if !ok {
		logger.Info(ctx, "update rejected: language not supported", zap.String("language", next.Language))
		return model.BuildResult{Status: appErr.LanguageNotFound}, nil
	}
	ws, src, exe, err := s.paths(next, backend)
	if err != nil {
		return model.BuildResult{}, err
	}

	s.saveStatus(ctx, next.StatusID, model.PhaseBuilding, appErr.Success, "")
	if err := s.workspace.Ensure(ws); err != nil {
		return model.BuildResult{}, s.rebuildFailed(ctx, current, next, ws, err)
	}
	settle := s.setAsideArtifact(ctx, exe)
	res, err := s.build(ctx, buildbot.BuildRequest{
		Backend:        backend,
		SourcePath:     src,
		ExecutablePath: exe,
		Source:         next.SourceCode,
		BuildOptions:   next.BuildOptions,
	})
	if err != nil {
		settle(true)
		return model.BuildResult{}, s.rebuildFailed(ctx, current, next, ws, err)
	}
	if !res.OK() {
		settle(true)
		logger.Info(ctx, "rebuild failed", zap.String("policy", string(s.cfg.UpdateFailurePolicy)), zap.Int("exit_code", res.ExitCode))
		if err := s.failRebuild(ctx, current, next, ws); err != nil {
			return res, appErr.Join(appErr.RollbackFailed, appErr.New(appErr.BuildFailed), err)
		}
		s.notify(ctx, next, model.EventBuildFailed, res.Status, "")
		return res, nil
	}

	if err := s.store.UpdateSubmission(ctx, next); err != nil {
		settle(true)
		return res, storeError(err, name)
	}
	settle(false)
	if current.TestDataID != next.TestDataID && s.managedTestData(ctx, current) {
		cctx, cancel := s.detached(ctx)
		if err := s.releaseTestData(ctx, cctx, current.TestDataID); err != nil {
			logger.Warn(ctx, "release replaced test data failed", zap.Error(err))
		}
		cancel()
	}
	if current.Language != next.Language {
		s.dropStaleSource(ctx, current, ws)
	}
	s.saveStatus(ctx, next.StatusID, model.PhaseBuilt, appErr.Success, "")
	s.afterBuild(ctx, next, exe)
	logger.Info(ctx, "submission updated", zap.Int64("id", next.ID))
	return res, nil
}

// Remove deletes the submission and releases its status, test data and workspace.
func (s *Service) Remove(ctx context.Context, name string) error {
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()
	ctx = context.WithValue(ctx, contextkey.Submission, name)

	sub, err := s.store.GetSubmissionByName(ctx, name)
	if err != nil {
		return storeError(err, name)
	}
	if err := s.store.DeleteSubmission(ctx, sub.ID); err != nil {
		return storeError(err, name)
	}
	ws, err := s.workspace.Resolve(sub.UserID, sub.ID)
	if err != nil {
		logger.Warn(ctx, "resolve workspace failed, directory left in place", zap.String("user_id", sub.UserID), zap.Error(err))
	}
	if err := s.releaseSatellites(ctx, sub, ws, s.managedTestData(ctx, sub)); err != nil {
		logger.Error(ctx, "release submission resources failed", zap.Error(err))
		return appErr.Join(appErr.ReleaseFailed, err)
	}
	s.notify(ctx, sub, model.EventRemoved, appErr.Success, "")
	logger.Info(ctx, "submission removed", zap.Int64("id", sub.ID))
	return nil
}

// Run executes the built artifact with the submission's test data.
func (s *Service) Run(ctx context.Context, name string) (model.RunResult, error) {
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return model.RunResult{}, err
	}
	defer unlock()
	ctx = context.WithValue(ctx, contextkey.Submission, name)

	sub, err := s.store.GetSubmissionByName(ctx, name)
	if err != nil {
		return model.RunResult{}, storeError(err, name)
	}
	backend, ok := s.registry.Resolve(sub.Language)
	if !ok {
		return model.RunResult{}, appErr.Newf(appErr.LanguageNotFound, "language %s is no longer supported", sub.Language)
	}

	var runOptions string
	var stdin []byte
	if sub.TestDataID != 0 {
		td, err := s.store.GetTestData(ctx, sub.TestDataID)
		switch {
		case errors.Is(err, repository.ErrTestDataNotFound):
			logger.Warn(ctx, "test data missing, running without options", zap.Int64("test_data_id", sub.TestDataID))
		case err != nil:
			return model.RunResult{}, storeError(err, name)
		default:
			runOptions, stdin = td.RunOptions, td.Input
		}
	}

	_, _, exe, err := s.paths(sub, backend)
	if err != nil {
		return model.RunResult{}, err
	}
	s.restoreIfMissing(ctx, sub, exe)

	res, err := s.runner.Run(ctx, testbot.RunRequest{
		Launcher:       backend,
		ExecutablePath: exe,
		RunOptions:     runOptions,
		Stdin:          stdin,
	})
	if err != nil {
		return model.RunResult{}, err
	}
	logger.Info(ctx, "submission run finished", zap.Int("exit_code", res.ExitCode), zap.Bool("timed_out", res.TimedOut))
	return res, nil
}

func applyUpdate(sub *model.Submission, req UpdateRequest) {
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Language != nil {
		sub.Language = *req.Language
	}
	if req.SourceCode != nil {
		sub.SourceCode = req.SourceCode
	}
	if req.BuildOptions != nil {
		sub.BuildOptions = *req.BuildOptions
	}
	if req.Price != nil {
		sub.Price = *req.Price
	}
	if req.Tags != nil {
		sub.Tags = model.NormalizeTags(*req.Tags)
	}
}

func validateName(name string) error {
	if len(name) > maxNameLength {
		return appErr.ValidationError("name", "too long")
	}
	return workspace.ValidateName(name)
}

// rollback undoes a create. cause is the primary failure; nil means the compiler rejected the source.
func (s *Service) rollback(ctx context.Context, sub *model.Submission, ws workspace.Workspace, ownsTestData bool, cause error) error {
	relErr := s.release(ctx, sub, ws, ownsTestData)
	if relErr == nil {
		return cause
	}
	logger.Error(ctx, "rollback failed", zap.Int64("id", sub.ID), zap.Error(relErr))
	if cause == nil {
		cause = appErr.New(appErr.BuildFailed)
	}
	return appErr.Join(appErr.RollbackFailed, cause, relErr)
}

// rebuildFailed applies the failure policy after an environment error during update.
func (s *Service) rebuildFailed(ctx context.Context, current, next *model.Submission, ws workspace.Workspace, cause error) error {
	if err := s.failRebuild(ctx, current, next, ws); err != nil {
		logger.Error(ctx, "rebuild failure policy failed", zap.Error(err))
		return appErr.Join(appErr.RollbackFailed, cause, err)
	}
	return cause
}

// failRebuild hands next to the failure policy. A test data record created by
// this update is dropped when the policy keeps the previous version.
func (s *Service) failRebuild(ctx context.Context, current, next *model.Submission, ws workspace.Workspace) error {
	err := s.onRebuildFailure(ctx, next, ws)
	if s.cfg.UpdateFailurePolicy == KeepOnFailure && next.TestDataID != current.TestDataID && next.TestDataID != 0 {
		cctx, cancel := s.detached(ctx)
		if delErr := s.store.DeleteTestData(cctx, next.TestDataID); delErr != nil {
			logger.Warn(ctx, "drop test data of failed update failed", zap.Error(delErr))
		}
		cancel()
	}
	return err
}

// setAsideArtifact moves the built executable out of the way of a rebuild
// under KeepOnFailure. The returned func puts it back when restore is set and
// discards it otherwise.
func (s *Service) setAsideArtifact(ctx context.Context, exe string) func(restore bool) {
	if s.cfg.UpdateFailurePolicy != KeepOnFailure {
		return func(bool) {}
	}
	prev := exe + ".prev"
	if err := os.Rename(exe, prev); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn(ctx, "set aside previous artifact failed", zap.Error(err))
		}
		return func(bool) {}
	}
	return func(restore bool) {
		if !restore {
			_ = os.Remove(prev)
			return
		}
		if err := os.Rename(prev, exe); err != nil {
			logger.Warn(ctx, "restore previous artifact failed", zap.Error(err))
		}
	}
}

// deleteOnFailure is the DeleteOnFailure policy. Shared test data survives.
func (s *Service) deleteOnFailure(ctx context.Context, sub *model.Submission, ws workspace.Workspace) error {
	return s.release(ctx, sub, ws, s.managedTestData(ctx, sub))
}

// testDataOwner returns the owner of the test data sub references, 0 when
// the record is shared or missing.
func (s *Service) testDataOwner(ctx context.Context, sub *model.Submission) (int64, error) {
	if sub.TestDataID == 0 {
		return 0, nil
	}
	cctx, cancel := s.detached(ctx)
	defer cancel()
	td, err := s.store.GetTestData(cctx, sub.TestDataID)
	if errors.Is(err, repository.ErrTestDataNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return td.OwnerID, nil
}

// managedTestData reports whether the test data of sub was created through a
// submission and may be deleted once nothing references it. Records without
// an owner are provisioned elsewhere and always kept.
func (s *Service) managedTestData(ctx context.Context, sub *model.Submission) bool {
	owner, err := s.testDataOwner(ctx, sub)
	if err != nil {
		logger.Warn(ctx, "look up test data owner failed, test data kept", zap.Int64("test_data_id", sub.TestDataID), zap.Error(err))
		return false
	}
	return owner != 0
}

// exclusiveTestData reports whether sub owns its test data and no other
// submission references it, so it may be overwritten in place.
func (s *Service) exclusiveTestData(ctx context.Context, sub *model.Submission) (bool, error) {
	owner, err := s.testDataOwner(ctx, sub)
	if err != nil || owner != sub.ID {
		return false, err
	}
	cctx, cancel := s.detached(ctx)
	defer cancel()
	refs, err := s.store.CountTestDataReferences(cctx, sub.TestDataID)
	if err != nil {
		return false, err
	}
	return refs <= 1, nil
}

// release deletes the record and everything attached to it.
func (s *Service) release(ctx context.Context, sub *model.Submission, ws workspace.Workspace, withTestData bool) error {
	cctx, cancel := s.detached(ctx)
	err := s.store.DeleteSubmission(cctx, sub.ID)
	cancel()
	if errors.Is(err, repository.ErrSubmissionNotFound) {
		err = nil
	}
	return errors.Join(err, s.releaseSatellites(ctx, sub, ws, withTestData))
}

func (s *Service) releaseSatellites(ctx context.Context, sub *model.Submission, ws workspace.Workspace, withTestData bool) error {
	cctx, cancel := s.detached(ctx)
	defer cancel()

	var errs []error
	if sub.StatusID != 0 {
		if err := s.store.DeleteStatus(cctx, sub.StatusID); err != nil {
			errs = append(errs, err)
		}
	}
	if withTestData && sub.TestDataID != 0 {
		// sub is deleted already, so any reference left belongs to another submission.
		if err := s.releaseTestData(ctx, cctx, sub.TestDataID); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.store.GarbageCollectTags(cctx); err != nil {
		logger.Warn(ctx, "garbage collect tags failed", zap.Error(err))
	}
	if ws.Dir != "" {
		if err := os.RemoveAll(ws.Dir); err != nil {
			errs = append(errs, err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Remove(cctx, sub.UserID, sub.ID); err != nil {
			logger.Warn(ctx, "remove archived artifact failed", zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// releaseTestData deletes the record unless a submission still references it.
func (s *Service) releaseTestData(ctx, cctx context.Context, id int64) error {
	refs, err := s.store.CountTestDataReferences(cctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		logger.Info(ctx, "test data still referenced, kept", zap.Int64("test_data_id", id), zap.Int64("references", refs))
		return nil
	}
	return s.store.DeleteTestData(cctx, id)
}

// keepFailed is the KeepOnFailure policy: the stored record stays, its status records the failure.
func (s *Service) keepFailed(ctx context.Context, sub *model.Submission, ws workspace.Workspace) error {
	cctx, cancel := s.detached(ctx)
	defer cancel()
	return s.store.SaveStatus(cctx, &model.StatusRecord{
		ID:      sub.StatusID,
		Phase:   model.PhaseFailed,
		Code:    appErr.BuildFailed,
		Message: "rebuild failed; previous version kept",
	})
}

func (s *Service) saveStatus(ctx context.Context, id int64, phase string, code appErr.ErrorCode, msg string) {
	if id == 0 {
		return
	}
	if err := s.store.SaveStatus(ctx, &model.StatusRecord{ID: id, Phase: phase, Code: code, Message: msg}); err != nil {
		logger.Warn(ctx, "save status failed", zap.String("phase", phase), zap.Error(err))
	}
}

func (s *Service) dropStaleSource(ctx context.Context, old *model.Submission, ws workspace.Workspace) {
	backend, ok := s.registry.Resolve(old.Language)
	if !ok {
		return
	}
	src, err := s.workspace.SourcePath(ws, old.Name, backend.SourceExtension())
	if err != nil {
		return
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn(ctx, "remove previous source failed", zap.Error(err))
	}
}
