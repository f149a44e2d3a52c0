package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/postbox/internal/models"
	"github.com/vdavid/postbox/internal/smtp"
)

// MailSender mocks api.MailSender.
type MailSender struct {
	mock.Mock
}

func NewMailSender(t interface {
	mock.TestingT
	Cleanup(func())
}) *MailSender {
	m := &MailSender{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MailSender) Send(ctx context.Context, creds models.SMTPCredentials, req *models.SendRequest) (*smtp.Message, error) {
	args := m.Called(ctx, creds, req)
	msg, _ := args.Get(0).(*smtp.Message)
	return msg, args.Error(1)
}

func (m *MailSender) TestConnection(ctx context.Context, creds models.SMTPCredentials) error {
	return m.Called(ctx, creds).Error(0)
}
