package dproc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/layout"
)

// fakeCodec is a minimal layout.Codec stand-in that copies bytes straight
// through, so dproc's role dispatch can be tested without pulling in a real
// codec or allocator.
type fakeCodec struct {
	encodeErr error
	decodeErr error
	eraseErr  error
	written   []byte
}

func (f *fakeCodec) Name() string { return "fake" }

func (f *fakeCodec) Encode(_ context.Context, _ layout.Allocator, target layout.WriteTarget, r io.Reader) (*catalog.Layout, error) {
	if f.encodeErr != nil {
		return nil, f.encodeErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.written = b
	return &catalog.Layout{ObjectUUID: target.ObjectUUID, Version: target.Version, CopyName: target.CopyName}, nil
}

func (f *fakeCodec) Decode(_ context.Context, _ layout.Allocator, l *catalog.Layout, w io.Writer, _ bool) error {
	if f.decodeErr != nil {
		return f.decodeErr
	}
	_, err := w.Write(f.written)
	return err
}

func (f *fakeCodec) Erase(_ context.Context, _ layout.Allocator, _ *catalog.Layout) error {
	return f.eraseErr
}

func (f *fakeCodec) Locate(_ context.Context, _ *catalog.Catalog, _ *catalog.Layout, focusHost string) (layout.LocateResult, error) {
	return layout.LocateResult{Hostname: focusHost}, nil
}

func (f *fakeCodec) GetSpecificAttrs(_ context.Context, _ layout.Allocator, _ *catalog.Layout) error {
	return nil
}

func (f *fakeCodec) Reconstruct(_ *catalog.Layout, _ int64) layout.ReconstructResult {
	return layout.ReconstructComplete
}

var _ layout.Codec = (*fakeCodec)(nil)

func TestProcessorEncoderStep(t *testing.T) {
	codec := &fakeCodec{}
	payload := []byte("encode me")
	p := &Processor{
		Role:        RoleEncoder,
		Codec:       codec,
		ObjectSize:  int64(len(payload)),
		WriteTarget: layout.WriteTarget{ObjectUUID: "u1", Version: 1, CopyName: "source"},
		Source:      bytes.NewReader(payload),
	}

	require.False(t, p.Done())
	require.NoError(t, p.Step(context.Background()))
	assert.True(t, p.Done())
	assert.NoError(t, p.Err())
	require.NotNil(t, p.EncodedLayout)
	assert.Equal(t, "u1", p.EncodedLayout.ObjectUUID)
}

func TestProcessorDecoderStep(t *testing.T) {
	codec := &fakeCodec{written: []byte("decode me")}
	var out bytes.Buffer
	p := &Processor{
		Role:       RoleDecoder,
		Codec:      codec,
		ObjectSize: int64(len(codec.written)),
		SrcLayout:  &catalog.Layout{ObjectUUID: "u2"},
		Sink:       &out,
	}

	require.NoError(t, p.Step(context.Background()))
	assert.Equal(t, "decode me", out.String())
	assert.True(t, p.Done())
}

func TestProcessorCopierPipesDecodeIntoEncode(t *testing.T) {
	codec := &fakeCodec{written: []byte("copy this payload")}
	p := &Processor{
		Role:       RoleCopier,
		Codec:      codec,
		ObjectSize: int64(len(codec.written)),
		SrcLayout:  &catalog.Layout{ObjectUUID: "u3", CopyName: "source"},
		DestTarget: layout.WriteTarget{ObjectUUID: "u3", CopyName: "replica"},
	}

	require.NoError(t, p.Step(context.Background()))
	assert.True(t, p.Done())
	require.NotNil(t, p.EncodedLayout)
	assert.Equal(t, "replica", p.EncodedLayout.CopyName)
}

func TestProcessorEraserStep(t *testing.T) {
	codec := &fakeCodec{}
	p := &Processor{Role: RoleEraser, Codec: codec, SrcLayout: &catalog.Layout{ObjectUUID: "u4"}}
	require.NoError(t, p.Step(context.Background()))
	assert.True(t, p.Done())
}

func TestProcessorStepIsIdempotentOnceDone(t *testing.T) {
	codec := &fakeCodec{}
	p := &Processor{Role: RoleEraser, Codec: codec, SrcLayout: &catalog.Layout{}}
	require.NoError(t, p.Step(context.Background()))
	require.NoError(t, p.Step(context.Background()), "a second Step on a done processor must be a no-op")
}

func TestProcessorEncoderErrorSetsErr(t *testing.T) {
	wantErr := errors.New("boom")
	codec := &fakeCodec{encodeErr: wantErr}
	p := &Processor{Role: RoleEncoder, Codec: codec, Source: bytes.NewReader(nil)}

	err := p.Step(context.Background())
	assert.Equal(t, wantErr, err)
	assert.Equal(t, wantErr, p.Err())
	assert.True(t, p.Done())
}

func TestProcessorUnknownRole(t *testing.T) {
	p := &Processor{Role: Role("bogus")}
	err := p.Step(context.Background())
	assert.Error(t, err)
}
