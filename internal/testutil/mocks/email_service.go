// Package mocks holds testify mocks of the interfaces the HTTP layer depends on.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/postbox/internal/imap"
	"github.com/vdavid/postbox/internal/models"
)

// EmailService mocks api.EmailService.
type EmailService struct {
	mock.Mock
}

// NewEmailService creates a mock whose expectations are asserted when the test ends.
func NewEmailService(t interface {
	mock.TestingT
	Cleanup(func())
}) *EmailService {
	m := &EmailService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *EmailService) GetEmails(ctx context.Context, userID, folder string, page, limit int, refresh bool) (*models.PageResult, error) {
	args := m.Called(ctx, userID, folder, page, limit, refresh)
	result, _ := args.Get(0).(*models.PageResult)
	return result, args.Error(1)
}

func (m *EmailService) ListFolders(ctx context.Context, userID string) ([]models.Folder, error) {
	args := m.Called(ctx, userID)
	folders, _ := args.Get(0).([]models.Folder)
	return folders, args.Error(1)
}

func (m *EmailService) ImportPage(ctx context.Context, userID, folder string, page, limit int) (*imap.ImportResult, error) {
	args := m.Called(ctx, userID, folder, page, limit)
	result, _ := args.Get(0).(*imap.ImportResult)
	return result, args.Error(1)
}

func (m *EmailService) InvalidateFolder(ctx context.Context, userID, folder string) {
	m.Called(ctx, userID, folder)
}

func (m *EmailService) InvalidateUser(ctx context.Context, userID string) {
	m.Called(ctx, userID)
}

func (m *EmailService) TestConnection(ctx context.Context, creds models.IMAPCredentials) error {
	return m.Called(ctx, creds).Error(0)
}

func (m *EmailService) StartIdleListener(ctx context.Context, userID string, hub imap.Notifier) {
	m.Called(ctx, userID, hub)
}
