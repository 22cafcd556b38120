// Property-based tests for middleware functions.
package bot

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"pgregory.net/rapid"

	"hey-fireball/internal/config"
	"hey-fireball/internal/directory"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return b
}

func textUpdate(chat *tele.Chat, sender *tele.User) tele.Update {
	return tele.Update{Message: &tele.Message{ID: 1, Chat: chat, Sender: sender, Text: "hi"}}
}

// TestWhitelistEnforcementProperty checks that group messages pass exactly
// when their chat is whitelisted.
func TestWhitelistEnforcementProperty(t *testing.T) {
	tb := offlineBot(t)

	rapid.Check(t, func(t *rapid.T) {
		numChats := rapid.IntRange(1, 10).Draw(t, "numChats")
		chats := make([]string, numChats)
		for i := range chats {
			// Group chat IDs are negative
			chats[i] = strconv.FormatInt(-rapid.Int64Range(1, 1000000000).Draw(t, "chatID"), 10)
		}
		cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: chats}}

		testChatID := -rapid.Int64Range(1, 1000000000).Draw(t, "testChatID")
		if rapid.Bool().Draw(t, "pickListed") {
			id, _ := strconv.ParseInt(rapid.SampledFrom(chats).Draw(t, "listed"), 10, 64)
			testChatID = id
		}
		expected := slices.Contains(chats, strconv.FormatInt(testChatID, 10))

		users := directory.New()
		called := false
		h := WhitelistMiddleware(cfg, users)(func(tele.Context) error {
			called = true
			return nil
		})

		sender := &tele.User{ID: 7, FirstName: "Ann"}
		err := h(tb.NewContext(textUpdate(&tele.Chat{ID: testChatID, Type: tele.ChatGroup}, sender)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called != expected {
			t.Fatalf("chat %d: handler called=%v, want %v (whitelist %v)", testChatID, called, expected, chats)
		}
		if users.Known("7") != expected {
			t.Fatalf("sender recorded=%v, want %v", users.Known("7"), expected)
		}
	})
}

func TestWhitelist_PrivateChatNeedsPriorGroupMessage(t *testing.T) {
	tb := offlineBot(t)
	cfg := &config.Config{Whitelist: config.WhitelistConfig{Chats: []string{"-100"}}}
	users := directory.New()

	calls := 0
	h := WhitelistMiddleware(cfg, users)(func(tele.Context) error {
		calls++
		return nil
	})

	sender := &tele.User{ID: 7, Username: "ann"}
	private := &tele.Chat{ID: 7, Type: tele.ChatPrivate}

	require.NoError(t, h(tb.NewContext(textUpdate(private, sender))))
	assert.Equal(t, 0, calls)

	require.NoError(t, h(tb.NewContext(textUpdate(&tele.Chat{ID: -100, Type: tele.ChatSuperGroup}, sender))))
	require.NoError(t, h(tb.NewContext(textUpdate(private, sender))))
	assert.Equal(t, 2, calls)
}

func TestWhitelist_EmptyAllowsEverything(t *testing.T) {
	tb := offlineBot(t)
	users := directory.New()

	called := false
	h := WhitelistMiddleware(&config.Config{}, users)(func(tele.Context) error {
		called = true
		return nil
	})

	require.NoError(t, h(tb.NewContext(textUpdate(&tele.Chat{ID: 7, Type: tele.ChatPrivate}, &tele.User{ID: 7}))))
	assert.True(t, called)
	assert.True(t, users.Known("7"))
}

func TestWhitelist_IgnoresBots(t *testing.T) {
	tb := offlineBot(t)

	called := false
	h := WhitelistMiddleware(&config.Config{}, directory.New())(func(tele.Context) error {
		called = true
		return nil
	})

	require.NoError(t, h(tb.NewContext(textUpdate(&tele.Chat{ID: -1, Type: tele.ChatGroup}, &tele.User{ID: 8, IsBot: true}))))
	assert.False(t, called)
}

func TestRecoveryMiddleware_StopsPanics(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = append(sent, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":2,"chat":{"id":-1,"type":"group"}}}`))
	}))
	defer srv.Close()

	tb, err := tele.NewBot(tele.Settings{Offline: true, URL: srv.URL, Token: "test"})
	require.NoError(t, err)

	h := RecoveryMiddleware()(func(tele.Context) error {
		panic("boom")
	})

	assert.NotPanics(t, func() {
		err = h(tb.NewContext(textUpdate(&tele.Chat{ID: -1, Type: tele.ChatGroup}, &tele.User{ID: 7})))
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"/bottest/sendMessage"}, sent)
}
