package service

import (
	"context"
	"errors"
	"strings"

	"algohub/internal/algorithm/model"
	"algohub/internal/algorithm/repository"
	appErr "algohub/pkg/errors"
)

// Get returns the submission stored under name.
func (s *Service) Get(ctx context.Context, name string) (*model.Submission, error) {
	sub, err := s.store.GetSubmissionByName(ctx, name)
	if err != nil {
		return nil, storeError(err, name)
	}
	return sub, nil
}

// Status returns the persisted build state of a submission.
func (s *Service) Status(ctx context.Context, name string) (*model.StatusRecord, error) {
	sub, err := s.store.GetSubmissionByName(ctx, name)
	if err != nil {
		return nil, storeError(err, name)
	}
	status, err := s.store.GetStatus(ctx, sub.StatusID)
	if errors.Is(err, repository.ErrStatusNotFound) {
		return nil, appErr.Newf(appErr.NotFound, "no build status for %s", name)
	}
	if err != nil {
		return nil, storeError(err, name)
	}
	return status, nil
}

// Search returns the one submission whose name contains word as a whole word.
func (s *Service) Search(ctx context.Context, word string) (*model.Submission, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, appErr.ValidationError("q", "must not be empty")
	}
	matches, err := s.store.SearchSubmissions(ctx, word)
	if err != nil {
		return nil, storeError(err, word)
	}
	switch len(matches) {
	case 0:
		return nil, appErr.Newf(appErr.NotFound, "no submission matches %q", word)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return nil, appErr.Newf(appErr.AmbiguousMatch, "%d submissions match %q", len(matches), word).
			WithDetail("matches", names)
	}
}

func (s *Service) List(ctx context.Context) ([]*model.Submission, error) {
	subs, err := s.store.ListSubmissions(ctx)
	if err != nil {
		return nil, storeError(err, "*")
	}
	return subs, nil
}

func (s *Service) ListByTag(ctx context.Context, tag string) ([]*model.Submission, error) {
	subs, err := s.store.ListSubmissionsByTag(ctx, strings.TrimSpace(tag))
	if err != nil {
		return nil, storeError(err, tag)
	}
	return subs, nil
}

func (s *Service) ListNames(ctx context.Context) ([]string, error) {
	return s.ListNamesByTag(ctx, "")
}

// ListNamesByTag lists names linked to tag. An empty tag lists every name.
func (s *Service) ListNamesByTag(ctx context.Context, tag string) ([]string, error) {
	names, err := s.store.ListNames(ctx, strings.TrimSpace(tag))
	if err != nil {
		return nil, storeError(err, tag)
	}
	return names, nil
}
