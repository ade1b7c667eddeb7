package codesignpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SignatureOf_Success(t *testing.T) {
	var calls int32
	collector := func(ctx context.Context, path string) *procmodel.Signature {
		atomic.AddInt32(&calls, 1)
		return &procmodel.Signature{Signed: true, Identifier: path}
	}
	p := New(2, collector)
	defer p.Stop()

	sig, err := p.SignatureOf(context.Background(), "/bin/foo")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "/bin/foo", sig.Identifier)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPool_SignatureOf_TaskTimeout(t *testing.T) {
	collector := func(ctx context.Context, path string) *procmodel.Signature {
		<-ctx.Done()
		return nil
	}
	p := New(1, collector)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sig, err := p.SignatureOf(ctx, "/bin/slow")
	assert.Nil(t, sig)
	assert.Error(t, err)
}

func TestPool_Stop_RejectsLaterSubmissions(t *testing.T) {
	block := make(chan struct{})
	collector := func(ctx context.Context, path string) *procmodel.Signature {
		<-block
		return &procmodel.Signature{Signed: true}
	}
	p := New(1, collector)

	// Occupy the single worker.
	go func() { _, _ = p.SignatureOf(context.Background(), "/bin/busy") }()
	time.Sleep(20 * time.Millisecond)

	p.Stop()
	close(block)

	_, err := p.SignatureOf(context.Background(), "/bin/another")
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestInlineFallback_SignatureOf(t *testing.T) {
	collector := func(ctx context.Context, path string) *procmodel.Signature {
		return &procmodel.Signature{Signed: true, Identifier: path}
	}
	f := InlineFallback{Collector: collector}
	sig, err := f.SignatureOf(context.Background(), "/bin/foo")
	require.NoError(t, err)
	assert.Equal(t, "/bin/foo", sig.Identifier)
}
