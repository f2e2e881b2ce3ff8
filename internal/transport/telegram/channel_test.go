package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

// fakeAPI serves a Bot API endpoint: getMe succeeds so New can build the
// client, every other method returns the configured body.
func fakeAPI(t *testing.T, body string) (*Channel, *string) {
	t.Helper()
	var lastMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if method == "getMe" {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"deals","username":"dealsbot"}}`))
			return
		}
		lastMethod = method
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{Token: "123:test", ChannelID: -100900, APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c, &lastMethod
}

func TestPinRejectionIsPermanent(t *testing.T) {
	t.Parallel()
	c, method := fakeAPI(t, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)

	err := c.Pin(context.Background(), domain.MessageHandle{ChatID: -100900, MessageID: 42})
	if !errors.Is(err, domain.ErrPermanentPublish) {
		t.Fatalf("Pin error = %v, want ErrPermanentPublish", err)
	}
	if *method != "pinChatMessage" {
		t.Fatalf("method = %s, want pinChatMessage", *method)
	}
}

func TestEditCaptionServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()
	c, method := fakeAPI(t, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)

	err := c.EditCaption(context.Background(), domain.MessageHandle{ChatID: -100900, MessageID: 42}, "updated")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("EditCaption error = %v, want ErrUpstreamUnavailable", err)
	}
	if *method != "editMessageCaption" {
		t.Fatalf("method = %s, want editMessageCaption", *method)
	}
}

func TestClassifyFloodError(t *testing.T) {
	t.Parallel()
	err := classify(tele.FloodError{RetryAfter: 30})
	if !errors.Is(err, domain.ErrUpstreamRateLimited) {
		t.Fatalf("classify = %v, want ErrUpstreamRateLimited", err)
	}
}

func TestClassifyBadRequestIsPermanent(t *testing.T) {
	t.Parallel()
	err := classify(&tele.Error{Code: 400, Description: "Bad Request: chat not found"})
	if !errors.Is(err, domain.ErrPermanentPublish) {
		t.Fatalf("classify = %v, want ErrPermanentPublish", err)
	}
}

func TestClassify429IsRateLimited(t *testing.T) {
	t.Parallel()
	err := classify(&tele.Error{Code: 429, Description: "Too Many Requests"})
	if !errors.Is(err, domain.ErrUpstreamRateLimited) {
		t.Fatalf("classify = %v, want ErrUpstreamRateLimited", err)
	}
}

func TestClassifyServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()
	err := classify(&tele.Error{Code: 502, Description: "Bad Gateway"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("classify = %v, want ErrUpstreamUnavailable", err)
	}

	err = classify(errors.New("dial tcp: connection refused"))
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("classify = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestStoredMessageRoundTrip(t *testing.T) {
	t.Parallel()
	m := stored(domain.MessageHandle{ChatID: -100900, MessageID: 42})
	id, chat := m.MessageSig()
	if id != "42" || chat != -100900 {
		t.Fatalf("MessageSig = %s/%d", id, chat)
	}
}
