package paramstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGetter is a minimal Getter stub.
type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestFetchToken_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	tok, err := FetchToken(context.Background(), g, "/sdr-agent/llm-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", tok)
}

func TestFetchToken_Failures(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		wantErr string
	}{
		{"missing field", &fakeGetter{val: `{"other":"value"}`}, "/p", "is empty"},
		{"malformed", &fakeGetter{val: `{"broken`}, "/p", "unmarshal"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/p", "ssm unavailable"},
		{"nil getter", nil, "/p", "nil"},
		{"blank name", &fakeGetter{val: `{"token":"x"}`}, " ", "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FetchToken(context.Background(), tc.getter, tc.param)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestTokenSource_CachesSuccess(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	src, err := NewTokenSource(g, "/sdr-agent/llm-token")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", tok)
	}
	require.Equal(t, 1, g.calls, "SSM must only be called once per process lifetime")
}

func TestTokenSource_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("throttled")}
	src, err := NewTokenSource(g, "/sdr-agent/llm-token")
	require.NoError(t, err)

	_, err = src.Token(context.Background())
	require.Error(t, err)

	g.err = nil
	g.val = `{"token":"sk-late"}`
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-late", tok)
	require.Equal(t, 2, g.calls)
}

func TestNewTokenSource_Validation(t *testing.T) {
	_, err := NewTokenSource(nil, "/p")
	require.Error(t, err)
	_, err = NewTokenSource(&fakeGetter{}, "")
	require.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("dev").Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dev", tok)
}

type slowGetter struct {
	calls atomic.Int32
}

func (g *slowGetter) GetParameter(context.Context, string) (string, error) {
	g.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return `{"token":"sk-shared"}`, nil
}

func TestTokenSource_ConcurrentCallersShareOneFetch(t *testing.T) {
	g := &slowGetter{}
	src, err := NewTokenSource(g, "/sdr-agent/whatsapp-token")
	require.NoError(t, err)

	const n = 10
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], _ = src.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		require.Equal(t, "sk-shared", tok)
	}
	require.Equal(t, int32(1), g.calls.Load())
}
