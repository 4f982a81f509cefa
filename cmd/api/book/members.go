package book

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Member struct {
	ID        uuid.UUID
	FullName  string
	CreatedAt time.Time
}

type CreateMemberRequest struct {
	FullName string
}

func (s *Service) CreateMember(ctx context.Context, req CreateMemberRequest) (Member, error) {
	if req.FullName == "" {
		return Member{}, ErrResponseMemberEntryBlankFields
	}

	m, err := s.repo.CreateMember(ctx, Member{
		ID:        uuid.New(),
		FullName:  req.FullName,
		CreatedAt: time.Now().UTC().Round(time.Millisecond),
	})
	if err != nil {
		return Member{}, repoError("CreateMember", err)
	}
	return m, nil
}

func (s *Service) GetMember(ctx context.Context, id uuid.UUID) (Member, error) {
	m, err := s.repo.GetMemberByID(ctx, id)
	if err != nil {
		return Member{}, repoError("GetMember", err)
	}
	return m, nil
}

func (s *Service) ListMembers(ctx context.Context) ([]Member, error) {
	members, err := s.repo.ListMembers(ctx)
	if err != nil {
		return nil, repoError("ListMembers", err)
	}
	return members, nil
}
