package chat

import (
	"errors"
	"strings"
	"testing"
)

type writerStub struct {
	written map[string]string
}

func (w *writerStub) Write(identity, markdown string) (string, error) {
	if w.written == nil {
		w.written = make(map[string]string)
	}
	w.written[identity] = markdown
	return "/exports/" + identity + ".md", nil
}

type uploaderStub struct {
	err   error
	names []string
}

func (u *uploaderStub) Sync(localPath, name string) error {
	u.names = append(u.names, name)
	return u.err
}

func TestExportOnceSkipsUnchanged(t *testing.T) {
	store := newMemStore()
	s := newTestService(store, nil, nil, nil)
	_, _ = s.Append("tony", Message{Role: RoleUser, Text: "hello"})

	writer := &writerStub{}
	uploader := &uploaderStub{}
	e := NewExporter(s, store, writer, uploader, 0)

	if err := e.ExportOnce(); err != nil {
		t.Fatalf("ExportOnce failed: %v", err)
	}
	if !strings.Contains(writer.written["tony"], "hello") {
		t.Fatalf("expected markdown export, got %q", writer.written["tony"])
	}
	if err := e.ExportOnce(); err != nil {
		t.Fatalf("ExportOnce failed: %v", err)
	}
	if len(uploader.names) != 1 {
		t.Fatalf("expected a single upload for an unchanged transcript, got %d", len(uploader.names))
	}

	_, _ = s.Append("tony", Message{Role: RoleUser, Text: "again"})
	_ = e.ExportOnce()
	if len(uploader.names) != 2 {
		t.Fatalf("expected re-upload after change, got %d", len(uploader.names))
	}
}

func TestExportOnceRetriesFailedUpload(t *testing.T) {
	store := newMemStore()
	s := newTestService(store, nil, nil, nil)
	_, _ = s.History("tony")

	uploader := &uploaderStub{err: errors.New("drive down")}
	e := NewExporter(s, store, &writerStub{}, uploader, 0)

	if err := e.ExportOnce(); err == nil {
		t.Fatal("expected upload error")
	}
	uploader.err = nil
	if err := e.ExportOnce(); err != nil {
		t.Fatalf("ExportOnce failed: %v", err)
	}
	if len(uploader.names) != 2 {
		t.Fatalf("expected retry after failure, got %d uploads", len(uploader.names))
	}
}
