package platform

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	for _, tt := range []struct {
		Name  string
		Input error
		Check func(t *testing.T, err error)
	}{
		{
			Name:  "Password",
			Input: errors.Wrap(auth.ErrPasswordAuthNeeded, "sign in"),
			Check: func(t *testing.T, err error) {
				require.True(t, IsAuthError(err, TwoFactorRequired))
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
				require.True(t, authErr.Terminal())
			},
		},
		{
			Name:  "InvalidCode",
			Input: tgerr.New(400, "PHONE_CODE_INVALID"),
			Check: func(t *testing.T, err error) {
				require.True(t, IsAuthError(err, InvalidCode))
			},
		},
		{
			Name:  "InvalidPhone",
			Input: tgerr.New(400, "PHONE_NUMBER_INVALID"),
			Check: func(t *testing.T, err error) {
				require.True(t, IsAuthError(err, InvalidPhone))
			},
		},
		{
			Name:  "FloodWait",
			Input: tgerr.New(420, "FLOOD_WAIT_30"),
			Check: func(t *testing.T, err error) {
				var flood *FloodWaitError
				require.ErrorAs(t, err, &flood)
				require.Equal(t, 30, flood.Seconds)
			},
		},
		{
			Name:  "Deactivated",
			Input: tgerr.New(401, "USER_DEACTIVATED_BAN"),
			Check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrUserDeactivated)
			},
		},
		{
			Name:  "KeyUnregistered",
			Input: tgerr.New(401, "AUTH_KEY_UNREGISTERED"),
			Check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrAuthKeyInvalid)
			},
		},
		{
			Name:  "Other",
			Input: errors.New("connection reset"),
			Check: func(t *testing.T, err error) {
				var transport *TransportError
				require.ErrorAs(t, err, &transport)
				require.Equal(t, "connection reset", transport.Detail)
			},
		},
		{
			Name:  "Canceled",
			Input: context.Canceled,
			Check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, context.Canceled)
			},
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			tt.Check(t, Classify(tt.Input))
		})
	}

	require.NoError(t, Classify(nil))
	classified := &AuthError{Kind: InvalidCode}
	require.Same(t, classified, Classify(classified))
}

func TestParsePostLink(t *testing.T) {
	for _, tt := range []struct {
		Input   string
		Channel string
		MsgID   int
	}{
		{"https://t.me/durov/123", "durov", 123},
		{"http://t.me/durov/1", "durov", 1},
		{"t.me/some_channel/42", "some_channel", 42},
		{"  https://t.me/durov/7?single ", "durov", 7},
	} {
		t.Run(tt.Input, func(t *testing.T) {
			link, err := ParsePostLink(tt.Input)
			require.NoError(t, err)
			require.Equal(t, PostLink{Channel: tt.Channel, MsgID: tt.MsgID}, link)
		})
	}

	for _, input := range []string{
		"",
		"durov/123",
		"https://t.me/durov",
		"https://example.com/durov/1",
	} {
		_, err := ParsePostLink(input)
		require.ErrorIs(t, err, ErrValidation, input)
	}
}

func TestNormalizePhone(t *testing.T) {
	for _, tt := range []struct {
		Input  string
		Output string
	}{
		{Input: "+1 (555) 000-1234", Output: "+15550001234"},
		{Input: "15550001234", Output: "+15550001234"},
		{Input: "989121234567", Output: "+989121234567"},
		{Input: "1 (415) 555-0100", Output: "+14155550100"},
	} {
		phone, err := NormalizePhone(tt.Input)
		require.NoError(t, err, tt.Input)
		require.Equal(t, tt.Output, phone)
	}

	for _, input := range []string{"", "+12345", "12345", "+1555abc1234"} {
		_, err := NormalizePhone(input)
		require.ErrorIs(t, err, ErrValidation, input)
	}
}

func TestChatTarget(t *testing.T) {
	for _, tt := range []struct {
		Input  string
		Name   string
		Invite bool
	}{
		{"@durov", "durov", false},
		{"durov", "durov", false},
		{"https://t.me/durov", "durov", false},
		{"https://t.me/durov/12", "durov", false},
		{"https://t.me/+AbCdEf", "AbCdEf", true},
		{"https://t.me/joinchat/AbCdEf", "AbCdEf", true},
	} {
		t.Run(tt.Input, func(t *testing.T) {
			name, invite := ChatTarget(tt.Input)
			require.Equal(t, tt.Name, name)
			require.Equal(t, tt.Invite, invite)
		})
	}
}

func TestSessionToken(t *testing.T) {
	token := EncodeSession([]byte("session"))
	data, err := DecodeSession(token)
	require.NoError(t, err)
	require.Equal(t, []byte("session"), data)

	_, err = DecodeSession("%%%")
	require.ErrorIs(t, err, ErrValidation)
	_, err = DecodeSession("")
	require.ErrorIs(t, err, ErrValidation)
}
