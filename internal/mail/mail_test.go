package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"blog-api/internal/observability"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

func captured(t *testing.T, sender *mockSender) Message {
	t.Helper()

	require.Len(t, sender.Calls, 1)
	return sender.Calls[0].Arguments.Get(1).(Message)
}

func TestNotifier_SendVerification(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.AnythingOfType("mail.Message")).Return(nil).Once()

	n := NewNotifier(sender, "https://blog.example/api", "https://blog.example/reset-password")
	require.NoError(t, n.SendVerification(context.Background(), "ana@x.com", "Ana", "abc123", "042917"))

	msg := captured(t, sender)
	assert.Equal(t, "ana@x.com", msg.To)
	assert.Equal(t, "Confirm your account", msg.Subject)
	assert.True(t, strings.HasPrefix(msg.Body, "Hi Ana,"))
	assert.Contains(t, msg.Body, "https://blog.example/api/auth/confirm/abc123?code=042917")
	assert.Contains(t, msg.Body, "Your confirmation code is 042917.")
	sender.AssertExpectations(t)
}

func TestNotifier_SendResetLink(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	n := NewNotifier(sender, "https://blog.example/api", "https://blog.example/account/reset")
	require.NoError(t, n.SendResetLink(context.Background(), "ana@x.com", "Ana", "feed"))

	msg := captured(t, sender)
	assert.Equal(t, "Reset your password", msg.Subject)
	assert.Contains(t, msg.Body, "https://blog.example/account/reset/feed")
	assert.NotContains(t, msg.Body, "/api/auth/reset-password/")
}

func TestNotifier_PlainNotices(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Twice()

	n := NewNotifier(sender, "https://blog.example/api", "https://blog.example/reset-password")
	require.NoError(t, n.SendConfirmed(context.Background(), "ana@x.com", "Ana"))
	require.NoError(t, n.SendPasswordChanged(context.Background(), "ana@x.com", "Ana"))

	require.Len(t, sender.Calls, 2)
	assert.Equal(t, "Your account is confirmed", sender.Calls[0].Arguments.Get(1).(Message).Subject)
	assert.Equal(t, "Your password was changed", sender.Calls[1].Arguments.Get(1).(Message).Subject)
}

func TestNotifier_PropagatesSenderError(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("relay down")).Once()

	n := NewNotifier(sender, "https://blog.example/api", "https://blog.example/reset-password")
	err := n.SendConfirmed(context.Background(), "ana@x.com", "Ana")
	assert.EqualError(t, err, "relay down")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	sender := NewLogSender(observability.NewLoggerTo(&buf, slog.LevelInfo))

	require.NoError(t, sender.Send(context.Background(), Message{To: "ana@x.com", Subject: "hello", Body: "text"}))
	assert.Contains(t, buf.String(), `"message":"mail_not_delivered"`)
	assert.Contains(t, buf.String(), `"to":"ana@x.com"`)
}

// fakeSMTP accepts a single session and records the DATA payload.
func fakeSMTP(t *testing.T) (string, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ready")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); verb {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250 localhost")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				data <- string(body)
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()

	return ln.Addr().String(), data
}

func TestSMTPSender_Send(t *testing.T) {
	addr, data := fakeSMTP(t)
	sender := NewSMTPSender(addr, "", "", "no-reply@blog.example")

	err := sender.Send(context.Background(), Message{To: "ana@x.com", Subject: "Reset your password", Body: "line one\nline two"})
	require.NoError(t, err)

	payload := <-data
	assert.Contains(t, payload, "From: no-reply@blog.example\n")
	assert.Contains(t, payload, "To: ana@x.com\n")
	assert.Contains(t, payload, "Subject: Reset your password\n")
	assert.Contains(t, payload, "line one\nline two")
}

func TestSMTPSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = NewSMTPSender(addr, "", "", "no-reply@blog.example").Send(context.Background(), Message{To: "ana@x.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
