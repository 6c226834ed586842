package slack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/ratelimit"
)

type fakeAPI struct {
	authTest         func(ctx context.Context) (*slack.AuthTestResponse, error)
	getConversations func(params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	getHistory       func(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	getReplies       func(params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
}

func (f *fakeAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if f.authTest == nil {
		return &slack.AuthTestResponse{UserID: "UBOT"}, nil
	}
	return f.authTest(ctx)
}

func (f *fakeAPI) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	if f.getConversations == nil {
		return nil, "", nil
	}
	return f.getConversations(params)
}

func (f *fakeAPI) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	if f.getHistory == nil {
		return &slack.GetConversationHistoryResponse{}, nil
	}
	return f.getHistory(params)
}

func (f *fakeAPI) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	if f.getReplies == nil {
		return nil, false, "", nil
	}
	return f.getReplies(params)
}

func testOptions() Options {
	return Options{
		MaxRetries:   3,
		RetryDelay:   time.Millisecond,
		PageSize:     100,
		PageDelay:    time.Millisecond,
		ReplyStagger: time.Millisecond,
		ReplyWorkers: 3,
	}
}

func testClient(api *fakeAPI, opts Options) *Client {
	return newClientWithAPI(api, ratelimit.NewLimiter(1000, time.Minute), opts)
}

func TestConnectSucceedsAfterProbe(t *testing.T) {
	client := testClient(&fakeAPI{}, testOptions())

	if client.State() != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", client.State())
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	if client.State() != StateConnected {
		t.Errorf("state after Connect = %v, want connected", client.State())
	}
	if client.BotUserID() != "UBOT" {
		t.Errorf("BotUserID() = %q, want UBOT", client.BotUserID())
	}
}

func TestConnectRetriesProbeFailures(t *testing.T) {
	attempts := 0
	api := &fakeAPI{
		authTest: func(ctx context.Context) (*slack.AuthTestResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient probe failure")
			}
			return &slack.AuthTestResponse{UserID: "UBOT"}, nil
		},
	}
	client := testClient(api, testOptions())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("probe attempts = %d, want 3", attempts)
	}
	if client.State() != StateConnected {
		t.Errorf("state = %v, want connected", client.State())
	}
}

func TestConnectExhaustsRetryBudget(t *testing.T) {
	attempts := 0
	api := &fakeAPI{
		authTest: func(ctx context.Context) (*slack.AuthTestResponse, error) {
			attempts++
			return nil, errors.New("endpoint unreachable")
		},
	}
	client := testClient(api, testOptions())

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrConnectionExhausted) {
		t.Fatalf("Connect() error = %v, want ErrConnectionExhausted", err)
	}
	if attempts != 3 {
		t.Errorf("probe attempts = %d, want 3", attempts)
	}
	if client.State() != StateDisconnected {
		t.Errorf("state after exhaustion = %v, want disconnected", client.State())
	}
}

func TestCallsRejectedWhenNotConnected(t *testing.T) {
	client := testClient(&fakeAPI{}, testOptions())

	if _, err := client.ListChannels(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListChannels() before connect = %v, want ErrNotConnected", err)
	}
	if _, err := client.FetchChannelMessages(context.Background(), "C1", 50); !errors.Is(err, ErrNotConnected) {
		t.Errorf("FetchChannelMessages() before connect = %v, want ErrNotConnected", err)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}
	client.Disconnect()

	if _, err := client.ListChannels(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListChannels() after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestListChannelsPaginatesAndClassifies(t *testing.T) {
	pages := map[string]struct {
		channels []slack.Channel
		next     string
	}{
		"":   {channels: []slack.Channel{makeChannel("C1", "proj-payments"), makeChannel("C2", "general")}, next: "cursor-1"},
		"cursor-1": {channels: []slack.Channel{makeChannel("C3", "random")}, next: ""},
	}

	api := &fakeAPI{
		getConversations: func(params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
			page := pages[params.Cursor]
			return page.channels, page.next, nil
		},
	}
	client := testClient(api, testOptions())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() returned error: %v", err)
	}

	channels, err := client.ListChannels(context.Background())
	if err != nil {
		t.Fatalf("ListChannels() returned error: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("ListChannels() returned %d channels, want 3", len(channels))
	}

	wantTypes := map[string]string{"C1": "priority", "C2": "standard", "C3": "off-topic"}
	for _, ch := range channels {
		if string(ch.Type) != wantTypes[ch.ID] {
			t.Errorf("channel %s type = %v, want %v", ch.ID, ch.Type, wantTypes[ch.ID])
		}
	}
}

func makeChannel(id, name string) slack.Channel {
	ch := slack.Channel{}
	ch.ID = id
	ch.Name = name
	ch.NumMembers = 12
	return ch
}
