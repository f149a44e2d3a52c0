package smtp

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/models"
)

func credentialsFor(t *testing.T, addr string) models.SMTPCredentials {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return models.SMTPCredentials{Host: host, Port: port, User: "test-user", Password: "test-pass"}
}
