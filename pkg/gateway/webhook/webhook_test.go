package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/orchestrator"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

type stubRouter struct {
	mu   sync.Mutex
	last orchestrator.Inbound
	done chan struct{}
}

func newStubRouter() *stubRouter { return &stubRouter{done: make(chan struct{}, 1)} }

func (s *stubRouter) Route(_ context.Context, in orchestrator.Inbound) (*orchestrator.Reply, error) {
	s.mu.Lock()
	s.last = in
	s.mu.Unlock()
	s.done <- struct{}{}
	return &orchestrator.Reply{
		Message: "here are some options",
		Cards:   []executor.Card{{Title: "Pizza", Price: "₹200"}},
		Buttons: []executor.Button{{Label: "Yes"}, {Label: "No"}},
	}, nil
}

type stubTransport struct {
	mu      sync.Mutex
	channel string
	id      string
	text    string
}

func (s *stubTransport) SendText(_ context.Context, channel, identifier, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel, s.id, s.text = channel, identifier, text
	return nil
}

type stubASR struct {
	text string
}

func (s *stubASR) Transcribe(_ context.Context, _ string) (rpcclient.TranscribeResult, error) {
	return rpcclient.TranscribeResult{Text: s.text}, nil
}

func TestGateway_WhatsAppTextMessage(t *testing.T) {
	router := newStubRouter()
	transport := &stubTransport{}
	gw := New(router, &TextSender{Transport: transport}, nil)
	gw.Register(WhatsAppAdapter{})

	server := httptest.NewServer(gw.Handle("whatsapp"))
	t.Cleanup(server.Close)

	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"919923383838","type":"text","text":{"body":"order pizza"}}]}}]}]}`
	resp, err := http.Post(server.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	<-router.done
	assert.Equal(t, "whatsapp:919923383838", router.last.SessionID)
	assert.Equal(t, "919923383838", router.last.Identifier)
	assert.Equal(t, "order pizza", router.last.Text)
	assert.Equal(t, "whatsapp", router.last.Channel)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Contains(t, transport.text, "here are some options")
	assert.Contains(t, transport.text, "1. Pizza")
	assert.Contains(t, transport.text, "[Yes | No]")
}

func TestGateway_TelegramVoiceMessageIsTranscribed(t *testing.T) {
	router := newStubRouter()
	transport := &stubTransport{}
	gw := New(router, &TextSender{Transport: transport}, &stubASR{text: "send a parcel"})
	gw.Register(TelegramAdapter{})

	server := httptest.NewServer(gw.Handle("telegram"))
	t.Cleanup(server.Close)

	body := `{"message":{"chat":{"id":42},"voice":{"file_id":"AgADBAAD"}}}`
	resp, err := http.Post(server.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	<-router.done
	assert.Equal(t, "telegram:42", router.last.SessionID)
	assert.Equal(t, "send a parcel", router.last.Text, "voice note should be transcribed before routing")
}

func TestGateway_UnknownChannelIs404(t *testing.T) {
	gw := New(newStubRouter(), &TextSender{Transport: &stubTransport{}}, nil)
	server := httptest.NewServer(gw.Handle("signal"))
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_MalformedPayloadIs400(t *testing.T) {
	gw := New(newStubRouter(), &TextSender{Transport: &stubTransport{}}, nil)
	gw.Register(WhatsAppAdapter{})
	server := httptest.NewServer(gw.Handle("whatsapp"))
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL, "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
