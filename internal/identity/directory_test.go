package identity

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type DirectorySuite struct {
	suite.Suite
	mini *miniredis.Miniredis
	dir  *Directory
	ctx  context.Context
}

func TestDirectorySuite(t *testing.T) {
	suite.Run(t, new(DirectorySuite))
}

func (s *DirectorySuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	s.dir = NewDirectory(client)
	s.ctx = context.Background()
}

func (s *DirectorySuite) TestLinkVerifiesAndResolves() {
	verified, err := s.dir.IsVerified(s.ctx, "alice")
	s.Require().NoError(err)
	s.False(verified)

	s.Require().NoError(s.dir.Link(s.ctx, Link{UserID: "alice", Provider: "Steam", ExternalID: "76561198000000001"}))

	verified, err = s.dir.IsVerified(s.ctx, "alice")
	s.Require().NoError(err)
	s.True(verified)

	user, err := s.dir.Resolve(s.ctx, ProviderSteam, "76561198000000001")
	s.Require().NoError(err)
	s.Equal("alice", user)

	links, err := s.dir.Links(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]Link{{UserID: "alice", Provider: ProviderSteam, ExternalID: "76561198000000001"}}, links)
}

func (s *DirectorySuite) TestRelinkSameUserIsNoop() {
	l := Link{UserID: "alice", Provider: ProviderSteam, ExternalID: "1"}
	s.Require().NoError(s.dir.Link(s.ctx, l))
	s.NoError(s.dir.Link(s.ctx, l))
}

func (s *DirectorySuite) TestLinkOwnedByAnotherUser() {
	s.Require().NoError(s.dir.Link(s.ctx, Link{UserID: "alice", Provider: ProviderSteam, ExternalID: "1"}))

	err := s.dir.Link(s.ctx, Link{UserID: "mallory", Provider: ProviderSteam, ExternalID: "1"})
	s.ErrorIs(err, ErrAlreadyLinked)

	verified, err := s.dir.IsVerified(s.ctx, "mallory")
	s.Require().NoError(err)
	s.False(verified)
}

func (s *DirectorySuite) TestLinkRequiresAllFields() {
	s.ErrorIs(s.dir.Link(s.ctx, Link{UserID: "alice", Provider: ProviderSteam}), ErrInvalidLink)
	s.ErrorIs(s.dir.Link(s.ctx, Link{Provider: ProviderSteam, ExternalID: "1"}), ErrInvalidLink)
}

func (s *DirectorySuite) TestResolveUnknown() {
	_, err := s.dir.Resolve(s.ctx, ProviderSteam, "404")
	s.ErrorIs(err, ErrNotLinked)
}

func (s *DirectorySuite) TestSetVerified() {
	s.Require().NoError(s.dir.SetVerified(s.ctx, "bob", true))
	ok, err := s.dir.IsVerified(s.ctx, "bob")
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.dir.SetVerified(s.ctx, "bob", false))
	ok, err = s.dir.IsVerified(s.ctx, "bob")
	s.Require().NoError(err)
	s.False(ok)
}
