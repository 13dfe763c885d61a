package llm

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	resp  Response
	err   error
	calls int
}

func (s *stubProvider) Generate(_ context.Context, _ []Message, _ Options) (Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &stubProvider{resp: Response{Text: "first"}}
	second := &stubProvider{resp: Response{Text: "second"}}

	chain := NewChain(first, second)
	resp, err := chain.Generate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "first" {
		t.Errorf("Text = %q, want first", resp.Text)
	}
	if second.calls != 0 {
		t.Errorf("second provider called %d times, want 0", second.calls)
	}
}

func TestChain_FallsThroughOnError(t *testing.T) {
	first := &stubProvider{err: errors.New("boom")}
	second := &stubProvider{resp: Response{Text: "second"}}

	chain := NewChain(first, second)
	resp, err := chain.Generate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "second" {
		t.Errorf("Text = %q, want second", resp.Text)
	}
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(&stubProvider{err: errors.New("a")}, &stubProvider{err: errors.New("b")})
	if _, err := chain.Generate(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error when all providers fail")
	}
}

func TestChain_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubProvider{err: errors.New("boom")}
	second := &stubProvider{resp: Response{Text: "second"}}
	cancel()

	chain := NewChain(first, second)
	if _, err := chain.Generate(ctx, nil, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if second.calls != 0 {
		t.Errorf("second provider called after cancellation")
	}
}

func TestChain_DropsNilProviders(t *testing.T) {
	chain := NewChain(nil, &stubProvider{resp: Response{Text: "ok"}})
	resp, err := chain.Generate(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q, want ok", resp.Text)
	}
}
