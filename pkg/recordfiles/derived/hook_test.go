package derived_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/record-files/pkg/recordfiles"
	"github.com/tendant/record-files/pkg/recordfiles/artifactkey"
	"github.com/tendant/record-files/pkg/recordfiles/derived"
)

// mockStore is a testify mock of recordfiles.FileStore.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) InitFiles(ctx context.Context, identity recordfiles.Identity, recordID uuid.UUID, files []recordfiles.InitFileRequest, uow *recordfiles.UnitOfWork) ([]*recordfiles.File, error) {
	args := m.Called(ctx, identity, recordID, files, uow)
	if f := args.Get(0); f != nil {
		return f.([]*recordfiles.File), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) SetContent(ctx context.Context, identity recordfiles.Identity, recordID uuid.UUID, key string, reader io.Reader, uow *recordfiles.UnitOfWork) (*recordfiles.File, error) {
	data, _ := io.ReadAll(reader)
	args := m.Called(ctx, identity, recordID, key, data, uow)
	return fileArg(args, 0), args.Error(1)
}

func (m *mockStore) CommitFile(ctx context.Context, identity recordfiles.Identity, recordID uuid.UUID, key string, uow *recordfiles.UnitOfWork) (*recordfiles.File, error) {
	args := m.Called(ctx, identity, recordID, key, uow)
	return fileArg(args, 0), args.Error(1)
}

func (m *mockStore) DeleteFile(ctx context.Context, identity recordfiles.Identity, recordID uuid.UUID, key string, uow *recordfiles.UnitOfWork) (*recordfiles.File, error) {
	args := m.Called(ctx, identity, recordID, key, uow)
	return fileArg(args, 0), args.Error(1)
}

func (m *mockStore) GetFile(ctx context.Context, identity recordfiles.Identity, recordID uuid.UUID, key string, uow *recordfiles.UnitOfWork) (*recordfiles.File, error) {
	args := m.Called(ctx, identity, recordID, key, uow)
	return fileArg(args, 0), args.Error(1)
}

func (m *mockStore) OpenContent(ctx context.Context, identity recordfiles.Identity, recordID uuid.UUID, key string, uow *recordfiles.UnitOfWork) (io.ReadCloser, error) {
	args := m.Called(ctx, identity, recordID, key, uow)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func fileArg(args mock.Arguments, i int) *recordfiles.File {
	if f := args.Get(i); f != nil {
		return f.(*recordfiles.File)
	}
	return nil
}

// stubRenderer returns fixed results and records whether it ran.
type stubRenderer struct {
	out    []byte
	err    error
	called bool
}

func (s *stubRenderer) Render(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	s.called = true
	return s.out, s.err
}

type stubExtractor struct {
	out    string
	err    error
	called bool
}

func (s *stubExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	s.called = true
	return s.out, s.err
}

var (
	ctx      = context.Background()
	identity = recordfiles.SystemIdentity()
	recordID = uuid.New()
	anyArg   = mock.Anything
)

func event(store recordfiles.FileStore, key string) recordfiles.HookEvent {
	return recordfiles.HookEvent{Store: store, Identity: identity, RecordID: recordID, Key: key}
}

func primary(key, mimeType string) *recordfiles.File {
	return &recordfiles.File{RecordID: recordID, Key: key, MimeType: mimeType, Status: recordfiles.FileStatusCompleted, Metadata: map[string]interface{}{}}
}

func expectSource(store *mockStore, key string, data string) {
	store.On("OpenContent", anyArg, identity, recordID, key, anyArg).
		Return(io.NopCloser(bytes.NewReader([]byte(data))), nil)
}

func expectFreeKey(store *mockStore, key string) {
	store.On("GetFile", anyArg, identity, recordID, key, anyArg).Return(nil, recordfiles.ErrFileKeyNotFound).Once()
}

func expectArtifact(store *mockStore, key string, kind recordfiles.Kind, sourceKey string, content []byte) {
	req := []recordfiles.InitFileRequest{{
		Key:      key,
		Metadata: map[string]interface{}{"kind": string(kind), "source_key": sourceKey},
	}}
	expectFreeKey(store, key)
	store.On("InitFiles", anyArg, identity, recordID, req, anyArg).Return([]*recordfiles.File{{Key: key}}, nil).Once()
	store.On("SetContent", anyArg, identity, recordID, key, content, anyArg).Return(&recordfiles.File{Key: key}, nil).Once()
	store.On("CommitFile", anyArg, identity, recordID, key, anyArg).Return(&recordfiles.File{Key: key}, nil).Once()
}

func TestOnCommit_CreatesBothArtifacts(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "doc.pdf", "%PDF")
	expectArtifact(store, "doc-pdf.jpg", recordfiles.KindThumbnail, "doc.pdf", []byte("jpeg"))
	expectArtifact(store, "doc-pdf.txt", recordfiles.KindFulltext, "doc.pdf", []byte("hello\nworld"))

	hook := derived.New(
		derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}),
		derived.WithFulltextExtractor(&stubExtractor{out: "hello\nworld"}),
	)
	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Created())
	assert.Equal(t, "doc-pdf.jpg", outcomes[0].Key)
	assert.True(t, outcomes[1].Created())
	assert.Equal(t, "doc-pdf.txt", outcomes[1].Key)
	store.AssertExpectations(t)
}

func TestOnCommit_SkipsDerivedFiles(t *testing.T) {
	store := &mockStore{}
	thumb := &stubRenderer{out: []byte("jpeg")}
	text := &stubExtractor{out: "text"}
	hook := derived.New(derived.WithThumbnailRenderer(thumb), derived.WithFulltextExtractor(text))

	for _, kind := range []recordfiles.Kind{recordfiles.KindThumbnail, recordfiles.KindFulltext} {
		file := primary("doc-pdf.jpg", "image/jpeg")
		file.Metadata["kind"] = string(kind)
		require.NoError(t, hook.OnCommit(ctx, event(store, file.Key), file))
	}

	assert.False(t, thumb.called)
	assert.False(t, text.called)
	store.AssertNotCalled(t, "OpenContent", anyArg, anyArg, anyArg, anyArg, anyArg)
	store.AssertNotCalled(t, "InitFiles", anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnCommit_ThumbnailFailureDoesNotBlockFulltext(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "doc.pdf", "%PDF")
	expectArtifact(store, "doc-pdf.txt", recordfiles.KindFulltext, "doc.pdf", []byte("text"))

	hook := derived.New(
		derived.WithThumbnailRenderer(&stubRenderer{err: errors.New("corrupt page")}),
		derived.WithFulltextExtractor(&stubExtractor{out: "text"}),
	)
	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))

	require.Len(t, outcomes, 2)
	assert.Equal(t, derived.FailureRender, outcomes[0].Failure)
	assert.True(t, outcomes[1].Created())
	store.AssertExpectations(t)
}

func TestOnCommit_NoArtifactsForEmptyResults(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "photo.png", "png")
	expectArtifact(store, "photo-png.jpg", recordfiles.KindThumbnail, "photo.png", []byte("jpeg"))

	hook := derived.New(
		derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}),
		derived.WithFulltextExtractor(&stubExtractor{}),
	)
	outcomes := hook.Generate(ctx, event(store, "photo.png"), primary("photo.png", "image/png"))

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Created())
	assert.Equal(t, derived.FailureSkipped, outcomes[1].Failure)
	store.AssertExpectations(t)
}

func TestOnCommit_OccupiedKeyIsNotInserted(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "doc.pdf", "%PDF")
	userFile := primary("doc-pdf.txt", "text/plain")
	store.On("GetFile", anyArg, identity, recordID, "doc-pdf.txt", anyArg).Return(userFile, nil)
	expectArtifact(store, "doc-pdf.jpg", recordfiles.KindThumbnail, "doc.pdf", []byte("jpeg"))

	hook := derived.New(
		derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}),
		derived.WithFulltextExtractor(&stubExtractor{out: "text"}),
	)
	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Created())
	assert.Equal(t, derived.FailureDuplicate, outcomes[1].Failure)
	assert.ErrorIs(t, outcomes[1].Err, recordfiles.ErrDuplicateKey)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "InitFiles", anyArg, identity, recordID, []recordfiles.InitFileRequest{{
		Key:      "doc-pdf.txt",
		Metadata: map[string]interface{}{"kind": "fulltext", "source_key": "doc.pdf"},
	}}, anyArg)
}

func TestOnCommit_DuplicateIsContained(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "doc.pdf", "%PDF")
	store.On("GetFile", anyArg, identity, recordID, "doc-pdf.jpg", anyArg).Return(nil, recordfiles.ErrFileKeyNotFound)
	store.On("InitFiles", anyArg, identity, recordID, anyArg, anyArg).
		Return(nil, &recordfiles.FileError{Key: "doc-pdf.jpg", Op: "init", Err: recordfiles.ErrDuplicateKey})

	hook := derived.New(derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}))
	file := primary("doc.pdf", "application/pdf")

	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), file)
	assert.Equal(t, derived.FailureDuplicate, outcomes[0].Failure)
	assert.NoError(t, hook.OnCommit(ctx, event(store, "doc.pdf"), file))
	store.AssertNotCalled(t, "SetContent", anyArg, anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnCommit_LookupFailureSkipsArtifact(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "doc.pdf", "%PDF")
	store.On("GetFile", anyArg, identity, recordID, "doc-pdf.jpg", anyArg).Return(nil, errors.New("connection reset"))

	hook := derived.New(derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}))
	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))

	assert.Equal(t, derived.FailureInit, outcomes[0].Failure)
	store.AssertNotCalled(t, "InitFiles", anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnCommit_WriteFailureDiscardsEntry(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "doc.pdf", "%PDF")
	expectFreeKey(store, "doc-pdf.jpg")
	store.On("InitFiles", anyArg, identity, recordID, anyArg, anyArg).Return([]*recordfiles.File{{}}, nil)
	store.On("SetContent", anyArg, identity, recordID, "doc-pdf.jpg", anyArg, anyArg).Return(nil, errors.New("disk full"))
	store.On("DeleteFile", anyArg, identity, recordID, "doc-pdf.jpg", anyArg).Return(&recordfiles.File{}, nil).Once()

	hook := derived.New(derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}))
	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))

	assert.Equal(t, derived.FailureWrite, outcomes[0].Failure)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "CommitFile", anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnCommit_SourceReadFailure(t *testing.T) {
	store := &mockStore{}
	store.On("OpenContent", anyArg, identity, recordID, "doc.pdf", anyArg).Return(nil, recordfiles.ErrContentNotWritten)

	hook := derived.New(
		derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}),
		derived.WithFulltextExtractor(&stubExtractor{out: "x"}),
	)
	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))
	require.Len(t, outcomes, 2)
	assert.Equal(t, derived.FailureSourceRead, outcomes[0].Failure)
	assert.Equal(t, derived.FailureSourceRead, outcomes[1].Failure)
}

func TestOnCommit_SourceTooLarge(t *testing.T) {
	store := &mockStore{}
	expectSource(store, "doc.pdf", "0123456789")
	thumb := &stubRenderer{out: []byte("jpeg")}

	hook := derived.New(derived.WithThumbnailRenderer(thumb), derived.WithMaxSourceBytes(5))
	outcomes := hook.Generate(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))
	assert.Equal(t, derived.FailureSourceRead, outcomes[0].Failure)
	assert.False(t, thumb.called)
}

func TestOnCommit_InvalidKeyPropagates(t *testing.T) {
	store := &mockStore{}
	expectSource(store, ".pdf", "%PDF")

	hook := derived.New(
		derived.WithThumbnailRenderer(&stubRenderer{out: []byte("jpeg")}),
		derived.WithFulltextExtractor(&stubExtractor{out: "text"}),
	)
	err := hook.OnCommit(ctx, event(store, ".pdf"), primary(".pdf", "application/pdf"))
	assert.ErrorIs(t, err, artifactkey.ErrInvalidKey)
	store.AssertNotCalled(t, "InitFiles", anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnDelete_RemovesOwnedArtifacts(t *testing.T) {
	store := &mockStore{}
	thumb := &recordfiles.File{Key: "doc-pdf.jpg", Metadata: map[string]interface{}{"kind": "thumbnail", "source_key": "doc.pdf"}}
	text := &recordfiles.File{Key: "doc-pdf.txt", Metadata: map[string]interface{}{"kind": "fulltext", "source_key": "doc.pdf"}}
	store.On("GetFile", anyArg, identity, recordID, "doc-pdf.jpg", anyArg).Return(thumb, nil)
	store.On("GetFile", anyArg, identity, recordID, "doc-pdf.txt", anyArg).Return(text, nil)
	store.On("DeleteFile", anyArg, identity, recordID, "doc-pdf.jpg", anyArg).Return(thumb, nil).Once()
	store.On("DeleteFile", anyArg, identity, recordID, "doc-pdf.txt", anyArg).Return(text, nil).Once()

	err := derived.New().OnDelete(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf"))
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestOnDelete_MissingArtifactsAreNotErrors(t *testing.T) {
	store := &mockStore{}
	store.On("GetFile", anyArg, identity, recordID, anyArg, anyArg).Return(nil, recordfiles.ErrFileKeyNotFound)

	err := derived.New().OnDelete(ctx, event(store, "notes.txt"), primary("notes.txt", "text/plain"))
	require.NoError(t, err)
	store.AssertNotCalled(t, "DeleteFile", anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnDelete_KeepsForeignFiles(t *testing.T) {
	store := &mockStore{}
	userFile := &recordfiles.File{Key: "doc-pdf.jpg", Metadata: map[string]interface{}{}}
	store.On("GetFile", anyArg, identity, recordID, "doc-pdf.jpg", anyArg).Return(userFile, nil)
	store.On("GetFile", anyArg, identity, recordID, "doc-pdf.txt", anyArg).Return(nil, recordfiles.ErrFileKeyNotFound)

	require.NoError(t, derived.New().OnDelete(ctx, event(store, "doc.pdf"), primary("doc.pdf", "application/pdf")))
	store.AssertNotCalled(t, "DeleteFile", anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnDelete_DerivedSnapshotDoesNotCascade(t *testing.T) {
	store := &mockStore{}
	snapshot := primary("doc-pdf.jpg", "image/jpeg")
	snapshot.Metadata["kind"] = "thumbnail"

	require.NoError(t, derived.New().OnDelete(ctx, event(store, "doc-pdf.jpg"), snapshot))
	store.AssertNotCalled(t, "GetFile", anyArg, anyArg, anyArg, anyArg, anyArg)
	store.AssertNotCalled(t, "DeleteFile", anyArg, anyArg, anyArg, anyArg, anyArg)
}

func TestOnDelete_InvalidKey(t *testing.T) {
	store := &mockStore{}
	err := derived.New().OnDelete(ctx, event(store, ""), primary("", ""))
	assert.ErrorIs(t, err, artifactkey.ErrInvalidKey)
}
