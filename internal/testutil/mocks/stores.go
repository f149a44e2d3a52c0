package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/postbox/internal/models"
)

// CredentialResolver mocks api.CredentialResolver.
type CredentialResolver struct {
	mock.Mock
}

func NewCredentialResolver(t interface {
	mock.TestingT
	Cleanup(func())
}) *CredentialResolver {
	m := &CredentialResolver{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *CredentialResolver) ResolveCredentials(ctx context.Context, userID string) (*models.Credentials, error) {
	args := m.Called(ctx, userID)
	creds, _ := args.Get(0).(*models.Credentials)
	return creds, args.Error(1)
}

func (m *CredentialResolver) Invalidate(userID string) {
	m.Called(userID)
}

// ConversationStore mocks api.ConversationStore.
type ConversationStore struct {
	mock.Mock
}

func NewConversationStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *ConversationStore {
	m := &ConversationStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ConversationStore) AppendMessage(ctx context.Context, userID, conversationID string, participants []string, subject string, msg *models.ConversationMessage) (bool, error) {
	args := m.Called(ctx, userID, conversationID, participants, subject, msg)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationStore) List(ctx context.Context, userID string, page, limit int) (*models.ConversationsResponse, error) {
	args := m.Called(ctx, userID, page, limit)
	resp, _ := args.Get(0).(*models.ConversationsResponse)
	return resp, args.Error(1)
}

func (m *ConversationStore) Get(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	args := m.Called(ctx, userID, conversationID)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}
