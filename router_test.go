package warren

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// scriptedClient returns canned assistant messages in order, then errors.
type scriptedClient struct {
	model     string
	responses []Message
	err       error

	mu  sync.Mutex
	idx int
}

func (c *scriptedClient) ModelID() string { return c.model }

func (c *scriptedClient) Complete(ctx context.Context, req CompletionRequest) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Message{}, c.err
	}
	if c.idx >= len(c.responses) {
		return TextMessage(RoleAssistant, "done"), nil
	}
	msg := c.responses[c.idx]
	c.idx++
	return msg, nil
}

func staticFactory(client InferenceClient, err error) ProviderFactory {
	return func(ProviderConfig) (InferenceClient, error) {
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func TestRouterCompleteSuccess(t *testing.T) {
	router := NewRouter([]ProviderConfig{{ID: "alpha", Model: "m1"}})
	router.Register("alpha", staticFactory(&scriptedClient{
		model:     "m1",
		responses: []Message{TextMessage(RoleAssistant, "hi")},
	}, nil))

	result, err := router.Complete(context.Background(), CompletionRequest{}, "")
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	if result.ProviderID != "alpha" || result.ModelID != "m1" {
		t.Errorf("routed to %s/%s, want alpha/m1", result.ProviderID, result.ModelID)
	}
	if got := result.Message.Text(); got != "hi" {
		t.Errorf("Message.Text() = %q, want %q", got, "hi")
	}

	kinds := []RouteEventKind{RouteAttempt, RouteSuccess}
	if len(result.Events) != len(kinds) {
		t.Fatalf("Events = %+v, want %v", result.Events, kinds)
	}
	for i, kind := range kinds {
		if result.Events[i].Kind != kind {
			t.Errorf("Events[%d].Kind = %q, want %q", i, result.Events[i].Kind, kind)
		}
	}
}

func TestRouterFallsBackOnConstructionFailure(t *testing.T) {
	router := NewRouter([]ProviderConfig{
		{ID: "broken", Model: "m0"},
		{ID: "alpha", Model: "m1"},
	})
	router.Register("broken", staticFactory(nil, errors.New("no API key configured")))
	router.Register("alpha", staticFactory(&scriptedClient{
		model:     "m1",
		responses: []Message{TextMessage(RoleAssistant, "ok")},
	}, nil))

	result, err := router.Complete(context.Background(), CompletionRequest{}, "")
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	if result.ProviderID != "alpha" {
		t.Errorf("ProviderID = %s, want alpha", result.ProviderID)
	}
	if len(result.Events) == 0 || result.Events[0].Kind != RouteFallback || result.Events[0].ProviderID != "broken" {
		t.Errorf("Events[0] = %+v, want fallback on broken", result.Events)
	}
}

func TestRouterRuntimeErrorDoesNotRotate(t *testing.T) {
	runtimeErr := errors.New("rate limited")
	router := NewRouter([]ProviderConfig{
		{ID: "flaky", Model: "m0"},
		{ID: "alpha", Model: "m1"},
	})
	router.Register("flaky", staticFactory(&scriptedClient{model: "m0", err: runtimeErr}, nil))
	router.Register("alpha", staticFactory(&scriptedClient{model: "m1"}, nil))

	_, err := router.Complete(context.Background(), CompletionRequest{}, "")
	if !errors.Is(err, runtimeErr) {
		t.Errorf("Complete() = %v, want the runtime error surfaced", err)
	}
}

func TestRouterNoProvider(t *testing.T) {
	tests := []struct {
		name   string
		router *Router
	}{
		{"empty list", NewRouter(nil)},
		{"no factory registered", NewRouter([]ProviderConfig{{ID: "ghost"}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.router.Complete(context.Background(), CompletionRequest{}, "")
			if !errors.Is(err, ErrNoProvider) {
				t.Errorf("Complete() = %v, want ErrNoProvider", err)
			}
		})
	}
}

func TestRouterAllConstructionFailuresExhaust(t *testing.T) {
	router := NewRouter([]ProviderConfig{{ID: "a"}, {ID: "b"}})
	router.Register("a", staticFactory(nil, errors.New("no key")))
	router.Register("b", staticFactory(nil, errors.New("no key")))

	_, err := router.Complete(context.Background(), CompletionRequest{}, "")
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("Complete() = %v, want ErrNoProvider", err)
	}
}

func TestRouterPreferredFrontloaded(t *testing.T) {
	router := NewRouter([]ProviderConfig{
		{ID: "alpha", Model: "m1"},
		{ID: "beta", Model: "m2"},
	})
	router.Register("alpha", staticFactory(&scriptedClient{model: "m1"}, nil))
	router.Register("beta", staticFactory(&scriptedClient{model: "m2"}, nil))

	result, err := router.Complete(context.Background(), CompletionRequest{}, "beta")
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	if result.ProviderID != "beta" {
		t.Errorf("ProviderID = %s, want preferred beta first", result.ProviderID)
	}
}

func TestRouterUpdateProviders(t *testing.T) {
	router := NewRouter([]ProviderConfig{{ID: "alpha"}})
	router.UpdateProviders([]ProviderConfig{{ID: "beta"}, {ID: "gamma"}})

	got := router.Providers()
	if len(got) != 2 || got[0].ID != "beta" || got[1].ID != "gamma" {
		t.Errorf("Providers() = %+v, want [beta gamma]", got)
	}
}
